package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/backends"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/extract"
	"github.com/keithlinneman/ziprehome/internal/unzipsvc"
)

var clientID string

var extractCmd = &cobra.Command{
	Use:   "extract <archive.zip>",
	Short: "Extract a local archive into the content store",
	Long: `Extract walks a local zip archive and its nested zips and stores every leaf.

Without --client-id the archive itself is not stored and the output is the
id list plus tree. With --client-id the archive is stored first, its leaves
are parented to it and the output is the detail map keyed by its id.`,
	Example: `  # preview the tree without touching the store
  rehomectl extract bundle.zip --dry-run

  # rehome under a client
  rehomectl extract bundle.zip --client-id acme`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newEngineStack(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		name := filepath.Base(args[0])

		var out any
		if clientID != "" {
			out, err = rt.svc.ProcessUpload(ctx, clientID, name, f)
		} else {
			out, err = rt.svc.Process(ctx, name, f)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", extract.FailureKind(err), err)
		}
		rt.reportDryRun(cmd)
		return printJSON(cmd, out)
	},
}

var rehomeCmd = &cobra.Command{
	Use:   "rehome <client-id> <document-link-id>",
	Short: "Extract an archive that is already in the content store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newEngineStack(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		out, err := rt.svc.ProcessDocument(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", extract.FailureKind(err), err)
		}
		return printJSON(cmd, out)
	},
}

func init() {
	extractCmd.Flags().StringVar(&clientID, "client-id", "", "store the archive and parent its leaves under this client")
}

// engineStack is the service and its backends for one invocation.
type engineStack struct {
	svc   *unzipsvc.Service
	store docstore.Store
	audit audit.Store
	close func()
}

func newEngineStack(ctx context.Context) (*engineStack, error) {
	store, err := backends.OpenStore(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	rec, _, err := backends.OpenAudit(ctx, conf)
	if err != nil {
		return nil, err
	}
	ep, up, err := backends.NewPools(conf)
	if err != nil {
		_ = rec.Close()
		return nil, err
	}
	closeAll := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = ep.Shutdown(sctx)
		_ = up.Shutdown(sctx)
		_ = rec.Close()
	}

	engine, err := extract.New(extract.Options{
		ExtractPool:     ep,
		UploadPool:      up,
		Store:           store,
		Audit:           rec,
		TempDir:         conf.TempDir,
		Logger:          logger,
		CancelOnFailure: conf.CancelOnFailure,
		MaxEntrySize:    conf.MaxEntrySize,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	svc, err := unzipsvc.New(unzipsvc.Options{
		Engine:         engine,
		Store:          store,
		Audit:          rec,
		TempDir:        conf.TempDir,
		MaxUploadBytes: conf.MaxUploadBytes,
		Logger:         logger,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	return &engineStack{svc: svc, store: store, audit: rec, close: closeAll}, nil
}

// reportDryRun summarizes what a real run would have written.
func (rt *engineStack) reportDryRun(cmd *cobra.Command) {
	if !dryRun {
		return
	}
	ms, ok := rt.store.(*docstore.MemStore)
	if !ok {
		return
	}
	entries := 0
	if mem, ok := rt.audit.(*audit.Memory); ok {
		entries = len(mem.All())
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "dry run: %d documents, %d audit entries\n", ms.Len(), entries)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
