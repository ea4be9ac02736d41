package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/strongdm/fragstream/internal/dom"
	"github.com/strongdm/fragstream/internal/htmlstream"
	"github.com/strongdm/fragstream/internal/transport"
)

func newFetchCmd(c *cli) *cobra.Command {
	var whole bool
	var keepWhitespace bool
	var preload bool

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a fragment URL and print each top-level node as it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := url.Parse(args[0])
			if err != nil || !u.IsAbs() {
				return fmt.Errorf("fetch needs an absolute url, got %q", args[0])
			}
			// Module scripts resolve against the fragment's origin.
			client := transport.New(u.Scheme + "://" + u.Host)
			client.Log = c.log
			target := u.RequestURI()
			e := &emitter{
				doc:     dom.NewDocument(dom.WithModuleLoader(client.ModuleLoader()), dom.WithLogger(c.log)),
				out:     cmd.OutOrStdout(),
				preload: preload,
			}

			if whole {
				f, err := client.Fetch(ctx, target)
				if err != nil {
					return err
				}
				return e.emit(ctx, f)
			}

			s, err := client.Stream(ctx, target, htmlstream.WithWhitespace(keepWhitespace))
			if err != nil {
				return err
			}
			defer s.Cancel()
			for f, err := range s.All(ctx) {
				if err != nil {
					return err
				}
				if err := e.emit(ctx, f); err != nil {
					return err
				}
			}
			c.log.Info("fetched", "url", args[0], "stream_id", s.ID(), "fragments", e.n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&whole, "whole", false, "parse the whole response at once instead of streaming")
	cmd.Flags().BoolVar(&keepWhitespace, "keep-whitespace", false, "print whitespace-only text nodes")
	cmd.Flags().BoolVar(&preload, "preload", false, "load each fragment's module scripts before attaching it")
	return cmd
}
