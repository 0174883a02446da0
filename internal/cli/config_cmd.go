package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mithrel/localrmi/internal/config"
)

func newConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		// Loads config without validating it so broken files can be inspected.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, v))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and any problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := cmd.Context().Value(cfgKey).(*viper.Viper)
			_, _ = fmt.Fprint(cmd.OutOrStdout(), config.RenderEffectiveTOML(v))
			return config.CheckConfigValidity(v)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "Print the default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), config.RenderDefaultTOML())
			return nil
		},
	})
	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = config.DefaultConfigPath()
			}
			if err := config.WriteDefault(out); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "output", "o", "", "output path for config.toml")
	cmd.AddCommand(initCmd)
	return cmd
}
