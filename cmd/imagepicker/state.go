package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imagepicker/internal/session"
	"imagepicker/internal/store"
)

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted session as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(ctx, cfg.StoreURL)
			if err != nil {
				return err
			}
			defer st.Close()

			filter, err := cfg.FilterOptions()
			if err != nil {
				return err
			}
			state, err := session.NewBinding(st, filter, nil).Load(ctx)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(dump{Store: cfg.StoreURL, State: state}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

type dump struct {
	Store string        `yaml:"store"`
	State session.State `yaml:"state"`
}

