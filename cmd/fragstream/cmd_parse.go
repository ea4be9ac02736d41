package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/htmlstream"
	"github.com/strongdm/fragstream/internal/textstream"
)

func newParseCmd(c *cli) *cobra.Command {
	var chunkSize int
	var contentType string

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Stream-parse a local file and print each top-level node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filename := args[0]
			f, err := os.Open(filename)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}

			ct := contentType
			if ct == "" {
				ct = mime.TypeByExtension(filepath.Ext(filename))
			}
			s := htmlstream.NewStream(ctx, f,
				htmlstream.WithContentType(ct),
				htmlstream.WithChunkSize(chunkSize),
				htmlstream.WithCloser(f),
				htmlstream.WithLogger(c.log),
			)
			defer s.Cancel()

			e := &emitter{doc: dom.NewDocument(dom.WithLogger(c.log)), out: cmd.OutOrStdout()}
			for frag, err := range s.All(ctx) {
				if err != nil {
					return fmt.Errorf("parse %s: %w", filename, err)
				}
				if err := e.emit(ctx, frag); err != nil {
					return err
				}
			}
			c.log.Info("parsed", "file", filename, "stream_id", s.ID(), "fragments", e.n)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", textstream.DefaultChunkSize, "bytes per read")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type of the file (default: from its extension)")
	return cmd
}
