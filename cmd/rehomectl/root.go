package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keithlinneman/ziprehome/internal/cfg"
	"github.com/keithlinneman/ziprehome/internal/log"
	v "github.com/keithlinneman/ziprehome/internal/version"
)

var (
	conf    cfg.App
	goFlags = flag.NewFlagSet("rehomectl", flag.ContinueOnError)

	envFile string
	dryRun  bool
	logger  log.Logger = log.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "rehomectl",
	Short: "Extract nested zip archives and rehome their files",
	Long: `rehomectl walks a zip archive and every zip nested inside it, stores each
leaf file in the content store and prints the resulting tree.

Settings come from flags, then ZIPREHOME_* environment variables, then a
.env file in the working directory (or --env-file).`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cfg.Register(goFlags, &conf)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env if present)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "use the in-memory store and audit log")

	rootCmd.AddCommand(extractCmd, rehomeCmd, fetchCmd, versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	// cobra parsed the flags; mark them set on the go flagset so env values
	// do not override them
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if goFlags.Lookup(f.Name) != nil {
			_ = goFlags.Set(f.Name, f.Value.String())
		}
	})
	cfg.FillFromEnv(goFlags, "ZIPREHOME_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if dryRun {
		conf.StoreBackend = cfg.StoreMemory
		conf.AuditBackend = cfg.AuditMemory
	}
	if err := cfg.Validate(conf); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	vi := v.Get()
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "cli",
		Version:           vi.Version,
		Level:             lvl,
		JsonFormat:        conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
		Writer:            os.Stderr,
	})
	if err != nil {
		return err
	}
	logger = lg
	cmd.SetContext(log.WithContext(cmd.Context(), lg))
	return nil
}

// loadEnvFile loads path, or .env when path is empty and the file exists.
// Variables already in the environment win.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
