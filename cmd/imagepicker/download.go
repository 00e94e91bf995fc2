package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"imagepicker/internal/app"
)

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <url>",
		Short: "Download the persisted selection of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.panel.Open(ctx); err != nil {
				return err
			}
			if len(s.panel.State().Selected) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), infoStyle.Render("Nothing selected"))
				return nil
			}
			if err := s.panel.Download(ctx); err != nil {
				return err
			}
			return awaitBatch(ctx, s.runtime, cmd.OutOrStdout())
		},
	}
}

// awaitBatch prints the next finished download batch.
func awaitBatch(ctx context.Context, rt *app.Runtime, w io.Writer) error {
	select {
	case b := <-rt.Background.Results():
		for _, f := range b.Result.Files {
			fmt.Fprintln(w, f)
		}
		style := successStyle
		if b.Result.Succeeded < b.Result.Total {
			style = errorStyle
		}
		fmt.Fprintln(w, style.Render(fmt.Sprintf("%d/%d images downloaded", b.Result.Succeeded, b.Result.Total)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
