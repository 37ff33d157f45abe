package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chred/internal/registry"
)

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if _, err := registry.Resolve(cfg.Nanoapps); err != nil {
				return err
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}

func newNanoappsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nanoapps",
		Short: "List the built-in nanoapps",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range registry.Names() {
				e, _ := registry.Lookup(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s appId=0x%016x version=%d\n", name, e.Info.AppID, e.Info.Version)
			}
			return nil
		},
	}
}
