package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imagepicker/internal/overlay"
)

// gridTimeout bounds the wait for the overlay to render the grid.
const gridTimeout = 10 * time.Second

func newGrabCmd() *cobra.Command {
	var ff filterFlags
	var match []string
	cmd := &cobra.Command{
		Use:   "grab <url>",
		Short: "Scan, select through the overlay grid and download in one go",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], sessionOptions{
				renderer: func(id string) overlay.Renderer { return newTermRenderer(os.Stderr, id) },
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.open(ctx, cmd, &ff); err != nil {
				return err
			}
			if len(s.panel.State().Images) == 0 {
				return errors.New("no images found")
			}
			if err := s.panel.ShowOverlay(ctx); err != nil {
				return err
			}
			o, ok := s.runtime.Overlay(s.tab.ID())
			if !ok {
				return errors.New("overlay not injected")
			}
			waitCtx, cancel := context.WithTimeout(ctx, gridTimeout)
			err = o.WaitVisible(waitCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("image grid not shown: %w", err)
			}
			if len(match) == 0 {
				// SelectAll clears a fully selected grid.
				if images, selected := o.Snapshot(); len(selected) < len(images) {
					if err := o.SelectAll(ctx); err != nil {
						return err
					}
				}
			} else {
				images, selected := o.Snapshot()
				marked := map[string]bool{}
				for _, src := range selected {
					marked[src] = true
				}
				for _, m := range match {
					sources, err := resolveSources(images, m)
					if err != nil {
						return err
					}
					for _, src := range sources {
						if marked[src] {
							continue
						}
						if _, err := o.Toggle(ctx, src); err != nil {
							return err
						}
						marked[src] = true
					}
				}
			}
			if _, selected := o.Snapshot(); len(selected) == 0 {
				return fmt.Errorf("nothing selected")
			}
			if err := o.Download(ctx); err != nil {
				return err
			}
			return awaitBatch(ctx, s.runtime, cmd.OutOrStdout())
		},
	}
	ff.register(cmd)
	cmd.Flags().StringSliceVar(&match, "match", nil, "select only images matching these indexes or substrings")
	return cmd
}
