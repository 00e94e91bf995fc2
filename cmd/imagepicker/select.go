package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"imagepicker/discovery"
)

func newSelectCmd() *cobra.Command {
	var all, reset bool
	cmd := &cobra.Command{
		Use:   "select <url> [index|source|substring...]",
		Short: "Toggle images in the persisted selection",
		Long: `select toggles images of the last scan of <url>. Each argument is a
1-based index from "scan", an exact source, or a substring matching sources.
The selection is stored and restored the next time the same page is opened.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, args[0], sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.open(ctx, cmd, nil); err != nil {
				return err
			}
			if reset {
				for _, src := range s.panel.State().Selected {
					if _, err := s.panel.Toggle(ctx, src); err != nil {
						return err
					}
				}
			}
			if all {
				if err := s.panel.SelectAll(ctx); err != nil {
					return err
				}
			}
			images := s.panel.State().Images
			for _, arg := range args[1:] {
				sources, err := resolveSources(images, arg)
				if err != nil {
					return err
				}
				for _, src := range sources {
					if _, err := s.panel.Toggle(ctx, src); err != nil {
						return err
					}
				}
			}
			st := s.panel.State()
			printGrid(cmd.OutOrStdout(), st.Images, st.Selected)
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(fmt.Sprintf("%d selected", len(st.Selected))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "select every image")
	cmd.Flags().BoolVar(&reset, "clear", false, "clear the selection first")
	return cmd
}

// resolveSources maps a select argument onto image sources.
func resolveSources(images []discovery.Descriptor, arg string) ([]string, error) {
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 1 || i > len(images) {
			return nil, fmt.Errorf("index %d out of range 1..%d", i, len(images))
		}
		return []string{images[i-1].Source}, nil
	}
	var out []string
	for _, d := range images {
		if d.Source == arg {
			return []string{arg}, nil
		}
		if strings.Contains(d.Source, arg) {
			out = append(out, d.Source)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no image matches %q", arg)
	}
	return out, nil
}
