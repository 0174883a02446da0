package wire

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mithrel/localrmi/internal/config"
	"github.com/mithrel/localrmi/internal/ipc/transport"
	"github.com/mithrel/localrmi/internal/logging"
	"github.com/mithrel/localrmi/pkg/remoting"
)

// App aggregates the configured services for easy injection.
type App struct {
	Cfg     *viper.Viper
	Log     zerolog.Logger
	Loggers *logging.Factory
	// Metrics is nil unless metrics.enabled is set.
	Metrics *prometheus.Registry
}

// BuildApp validates cfg and wires logging and metrics from it.
func BuildApp(ctx context.Context, cfg *viper.Viper) (*App, error) {
	if err := config.CheckConfigValidity(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.GetString("log.level"),
		Format: cfg.GetString("log.format"),
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	app := &App{
		Cfg:     cfg,
		Log:     logger,
		Loggers: logging.NewFactory(logger),
	}
	if cfg.GetBool("metrics.enabled") {
		app.Metrics = prometheus.NewRegistry()
	}
	return app, nil
}

// ServerName joins the configured prefix and a role.
func (a *App) ServerName(role string) string {
	return a.Cfg.GetString("server_prefix") + "." + role
}

// ServerSettings builds settings for the server named role.
func (a *App) ServerSettings(role string) (remoting.ServerSettings, error) {
	ser, err := remoting.ParseSerializer(a.Cfg.GetString("serializer"))
	if err != nil {
		return remoting.ServerSettings{}, err
	}
	access, err := transport.ParseAccess(a.Cfg.GetString("security.server"))
	if err != nil {
		return remoting.ServerSettings{}, err
	}
	sec := &remoting.ServerSecurity{Access: access}
	for _, uid := range a.Cfg.GetIntSlice("security.allowed_uids") {
		sec.AllowedUIDs = append(sec.AllowedUIDs, uint32(uid))
	}
	s := remoting.ServerSettings{
		Path:          a.ServerName(role),
		RuntimeDir:    a.Cfg.GetString("runtime_dir"),
		MinListeners:  a.Cfg.GetInt("listeners.min"),
		MaxListeners:  a.Cfg.GetInt("listeners.max"),
		Serializer:    ser,
		LoggerFactory: a.Loggers,
		Security:      sec,
		ReportUnhandled: func(err error) {
			a.Log.Warn().Err(err).Str("server", role).Msg("unhandled request error")
		},
	}
	if a.Metrics != nil {
		s.Metrics = a.Metrics
	}
	return s, s.Validate()
}

// ClientSettings builds settings for a client of the server named role.
func (a *App) ClientSettings(role string) (remoting.ClientSettings, error) {
	ser, err := remoting.ParseSerializer(a.Cfg.GetString("serializer"))
	if err != nil {
		return remoting.ClientSettings{}, err
	}
	timeout, err := time.ParseDuration(a.Cfg.GetString("client.connect_timeout"))
	if err != nil {
		return remoting.ClientSettings{}, fmt.Errorf("client.connect_timeout: %w", err)
	}
	retry, err := time.ParseDuration(a.Cfg.GetString("client.retry_interval"))
	if err != nil {
		return remoting.ClientSettings{}, fmt.Errorf("client.retry_interval: %w", err)
	}
	s := remoting.ClientSettings{
		Path:           a.ServerName(role),
		RuntimeDir:     a.Cfg.GetString("runtime_dir"),
		ConnectTimeout: timeout,
		RetryInterval:  retry,
		Serializer:     ser,
		LoggerFactory:  a.Loggers,
	}
	if a.Cfg.GetString("security.client") == "current-user" {
		s.Security = &remoting.ClientSecurity{CurrentUserOnly: true}
	}
	return s, s.Validate()
}

// LogMetrics writes one line per gathered sample. It is a no-op without a registry.
func (a *App) LogMetrics() {
	if a.Metrics == nil {
		return
	}
	families, err := a.Metrics.Gather()
	if err != nil {
		a.Log.Warn().Err(err).Msg("gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := a.Log.Info().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			ev.Float64("value", sampleValue(mf.GetType(), m)).Msg("metrics")
		}
	}
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	}
	return m.GetUntyped().GetValue()
}
