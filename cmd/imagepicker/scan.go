package main

import (
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Scan a page and list the images that pass the filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.open(ctx, cmd, &ff); err != nil {
				return err
			}
			st := s.panel.State()
			printGrid(cmd.OutOrStdout(), st.Images, st.Selected)
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}
