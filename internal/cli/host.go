package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mithrel/localrmi/internal/demo"
	"github.com/mithrel/localrmi/internal/wire"
	"github.com/mithrel/localrmi/pkg/remoting"
)

// Server roles hosted by `localrmi host`.
const (
	roleTester  = "tester"
	roleEcho    = "echo"
	roleHasher  = "hasher"
	roleControl = "control"
)

// interruptCode is the exit code recorded when the host is stopped by a signal.
const interruptCode = 130

func newHostCmd() *cobra.Command {
	var vetoCodes []int
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host the demo servers until asked to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			host := remoting.NewHost(app.Loggers)
			defer func() {
				if err := host.Close(); err != nil {
					app.Log.Warn().Err(err).Msg("close host")
				}
			}()
			host.OnExiting(func(ev *remoting.ExitingEvent) {
				for _, c := range vetoCodes {
					if c == ev.Code {
						ev.Cancel = true
					}
				}
			})
			if err := addServers(app, host); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Hosting %s.{%s,%s,%s,%s}\n",
				app.Cfg.GetString("server_prefix"), roleTester, roleEcho, roleHasher, roleControl)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-host.Done():
			case <-sigCtx.Done():
				if _, err := host.Exit(interruptCode); err != nil {
					app.Log.Debug().Err(err).Msg("exit on signal")
				}
			}
			code, err := host.Wait(cmd.Context())
			if err != nil {
				return err
			}
			app.LogMetrics()
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&vetoCodes, "veto", nil, "exit codes to refuse")
	return cmd
}

func addServers(app *wire.App, host *remoting.Host) error {
	settings := make(map[string]remoting.ServerSettings)
	for _, role := range []string{roleTester, roleEcho, roleHasher, roleControl} {
		s, err := app.ServerSettings(role)
		if err != nil {
			return fmt.Errorf("%s settings: %w", role, err)
		}
		settings[role] = s
	}
	tester, err := remoting.NewRMIServer[demo.Tester](demo.NewTesterService(), settings[roleTester])
	if err != nil {
		return err
	}
	echo, err := remoting.NewMessageServer[string, string](demo.Echo, settings[roleEcho])
	if err != nil {
		return err
	}
	hasher, err := remoting.NewRMIServer[demo.Hasher](demo.HasherService{}, settings[roleHasher])
	if err != nil {
		return err
	}
	control, err := remoting.NewRMIServer[remoting.HostControl](host.Control(), settings[roleControl])
	if err != nil {
		return err
	}
	for _, s := range []remoting.Server{tester, echo, hasher, control} {
		if err := host.Add(s); err != nil {
			return fmt.Errorf("start %s: %w", s.Path(), err)
		}
	}
	return nil
}
