package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mithrel/localrmi/internal/demo"
	"github.com/mithrel/localrmi/internal/util"
	"github.com/mithrel/localrmi/internal/wire"
	"github.com/mithrel/localrmi/pkg/remoting"
)

type callFunc func(ctx context.Context, app *wire.App, args []string) (any, error)

type callTarget struct {
	usage string
	args  cobra.PositionalArgs
	run   callFunc
}

var callTargets = map[string]callTarget{
	"combine": {"combine <part1> <part2> [more...]", cobra.MinimumNArgs(2), callCombine},
	"half":    {"half <n>", cobra.ExactArgs(1), callHalf},
	"touch":   {"touch", cobra.NoArgs, callTouch},
	"hash":    {"hash [parts...]", cobra.ArbitraryArgs, callHash},
	"echo":    {"echo <message>", cobra.ExactArgs(1), callEcho},
	"ready":   {"ready", cobra.NoArgs, callReady},
}

func callNames() []string {
	names := make([]string, 0, len(callTargets))
	for name := range callTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Call a method on a running host",
		Long:  "Call a method on a running host. Methods: " + strings.Join(callNames(), ", "),
		Args:  cobra.MinimumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return util.Suggest(toComplete, callNames(), 0), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := callTargets[args[0]]
			if !ok {
				return unknownMethod(args[0])
			}
			if err := target.args(cmd, args[1:]); err != nil {
				return fmt.Errorf("usage: call %s: %w", target.usage, err)
			}
			res, err := target.run(cmd.Context(), getApp(cmd), args[1:])
			if err != nil {
				return err
			}
			if res != nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
}

func unknownMethod(name string) error {
	hints := util.Suggest(name, callNames(), 3)
	if len(hints) == 0 {
		return fmt.Errorf("%w: %q", remoting.ErrMethodNotFound, name)
	}
	return fmt.Errorf("%w: %q (did you mean %s?)", remoting.ErrMethodNotFound, name, strings.Join(hints, ", "))
}

func testerClient(app *wire.App) (*demo.TesterClient, error) {
	s, err := app.ClientSettings(roleTester)
	if err != nil {
		return nil, err
	}
	return demo.NewTesterClient(s)
}

func callCombine(ctx context.Context, app *wire.App, args []string) (any, error) {
	c, err := testerClient(app)
	if err != nil {
		return nil, err
	}
	return c.Combine(ctx, args[0], args[1], args[2:]...)
}

func callHalf(ctx context.Context, app *wire.App, args []string) (any, error) {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("half: %w", err)
	}
	c, err := testerClient(app)
	if err != nil {
		return nil, err
	}
	return c.Half(ctx, n)
}

func callTouch(ctx context.Context, app *wire.App, _ []string) (any, error) {
	c, err := testerClient(app)
	if err != nil {
		return nil, err
	}
	return nil, c.TouchErr(ctx)
}

func callHash(ctx context.Context, app *wire.App, args []string) (any, error) {
	s, err := app.ClientSettings(roleHasher)
	if err != nil {
		return nil, err
	}
	c, err := demo.NewHasherClient(s)
	if err != nil {
		return nil, err
	}
	return c.Digest(ctx, args...)
}

func callEcho(ctx context.Context, app *wire.App, args []string) (any, error) {
	s, err := app.ClientSettings(roleEcho)
	if err != nil {
		return nil, err
	}
	c, err := remoting.NewMessageClient[string, string](s)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, args[0])
}

func callReady(ctx context.Context, app *wire.App, _ []string) (any, error) {
	c, err := controlClient(app)
	if err != nil {
		return nil, err
	}
	return c.IsReady(ctx)
}

func controlClient(app *wire.App) (*remoting.HostControlClient, error) {
	s, err := app.ClientSettings(roleControl)
	if err != nil {
		return nil, err
	}
	return remoting.NewHostControlClient(s)
}
