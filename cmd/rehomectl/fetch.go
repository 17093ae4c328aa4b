package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/ziprehome/internal/backends"
)

var fetchOut string

var fetchCmd = &cobra.Command{
	Use:   "fetch <document-link-id>",
	Short: "Download a stored document",
	Example: `  rehomectl fetch 3f6c... -o report.pdf
  rehomectl fetch 3f6c... > report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := backends.OpenStore(ctx, conf, logger)
		if err != nil {
			return err
		}
		doc, err := store.Fetch(ctx, args[0])
		if err != nil {
			return err
		}
		defer doc.Body.Close()

		var w io.Writer = cmd.OutOrStdout()
		if fetchOut != "" {
			f, err := os.Create(fetchOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := io.Copy(w, doc.Body)
		if err != nil {
			return err
		}
		logger.Info(ctx, "document fetched", "document_link_id", args[0], "name", doc.Name, "bytes", n)
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOut, "output", "o", "", "write to this file instead of stdout")
}
