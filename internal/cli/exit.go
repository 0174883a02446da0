package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit [code]",
		Short: "Ask a running host to exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := 0
			if len(args) == 1 {
				var err error
				if code, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("exit code: %w", err)
				}
			}
			c, err := controlClient(getApp(cmd))
			if err != nil {
				return err
			}
			ok, err := c.Exit(cmd.Context(), code)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("host refused to exit with code %d", code)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Host exiting with code %d\n", code)
			return nil
		},
	}
}
