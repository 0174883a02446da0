package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/mithrel/localrmi/internal/ipc/transport"
)

// applyDefaults seeds Viper with defaults defined in GetConfigOptions.
func applyDefaults(v *viper.Viper) {
	for _, o := range GetConfigOptions() {
		v.SetDefault(o.Key, o.Default)
	}
}

// Load resolves configuration with precedence: defaults < file < env.
// The provided Viper instance is mutated with defaults, file contents, and env.
func Load(ctx context.Context, v *viper.Viper) error {
	// An explicit SetConfigFile upstream wins over the search paths.
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "localrmi"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "localrmi"))
		}
		v.AddConfigPath(".")
	}

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	// LOCALRMI_LISTENERS_MIN etc.
	v.SetEnvPrefix("localrmi")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(v.GetString("runtime_dir")) == "" {
		if dir, err := transport.DefaultRuntimeDir(); err == nil {
			v.Set("runtime_dir", dir)
		}
	}
	return nil
}

// DefaultConfigPath resolves the standard config.toml location.
func DefaultConfigPath() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		xdg = filepath.Join(home, ".config")
	}
	return filepath.Join(xdg, "localrmi", "config.toml")
}

type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns the default configuration options and their meanings.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "server_prefix", Default: "localrmi", Comment: "Prefix for the server names used by `localrmi host` and its clients"},
		{Key: "runtime_dir", Default: "", Comment: "Directory for socket files; empty means $XDG_RUNTIME_DIR/localrmi"},
		{Key: "serializer", Default: "native", Comment: "Payload serializer: native, json, yaml or proto"},

		{Key: "log.level", Default: "info", Comment: "trace, debug, info, warn or error"},
		{Key: "log.format", Default: "auto", Comment: "auto, text or json; auto picks text on a terminal"},

		{Key: "listeners.min", Default: 1, Comment: "Listeners kept waiting for a connection"},
		{Key: "listeners.max", Default: -1, Comment: "Upper bound on listeners; -1 is unbounded"},

		{Key: "security.server", Default: "current-user", Comment: "Who may connect: current-user, any or list"},
		{Key: "security.allowed_uids", Default: []int{}, Comment: "Peer uids admitted when security.server is list"},
		{Key: "security.client", Default: "current-user", Comment: "Servers a client trusts: current-user or none"},

		{Key: "client.connect_timeout", Default: "1m", Comment: "Connect budget; negative waits forever"},
		{Key: "client.retry_interval", Default: "10ms", Comment: "Pause between connect attempts while no listener is ready"},

		{Key: "metrics.enabled", Default: false, Comment: "Register listener pool metrics"},
	}
}

// CheckConfigValidity reports every invalid setting in v as one error.
func CheckConfigValidity(v *viper.Viper) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(v.GetString("server_prefix")) == "" {
		add("server_prefix is required")
	} else if strings.ContainsAny(v.GetString("server_prefix"), `/\`) {
		add("server_prefix must not contain path separators")
	}
	switch v.GetString("serializer") {
	case "", "native", "json", "yaml", "proto":
	default:
		add("serializer %q is not one of native, json, yaml, proto", v.GetString("serializer"))
	}
	switch strings.ToLower(v.GetString("log.format")) {
	case "", "auto", "text", "json":
	default:
		add("log.format %q is not one of auto, text, json", v.GetString("log.format"))
	}
	switch strings.ToLower(v.GetString("log.level")) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		add("log.level %q is not a known level", v.GetString("log.level"))
	}

	minL, maxL := v.GetInt("listeners.min"), v.GetInt("listeners.max")
	if minL <= 0 {
		add("listeners.min must be greater than 0")
	}
	if maxL == 0 || maxL < -1 {
		add("listeners.max must be greater than 0 or -1")
	} else if maxL > 0 && minL > maxL {
		add("listeners.max must not be less than listeners.min")
	}

	access, err := transport.ParseAccess(v.GetString("security.server"))
	if err != nil {
		add("security.server: %v", err)
	} else if access == transport.AccessList && len(v.GetIntSlice("security.allowed_uids")) == 0 {
		add("security.allowed_uids is required when security.server is list")
	}
	for _, uid := range v.GetIntSlice("security.allowed_uids") {
		if uid < 0 {
			add("security.allowed_uids contains negative uid %d", uid)
		}
	}
	switch v.GetString("security.client") {
	case "current-user", "none":
	default:
		add("security.client %q is not one of current-user, none", v.GetString("security.client"))
	}

	for _, key := range []string{"client.connect_timeout", "client.retry_interval"} {
		if _, err := time.ParseDuration(v.GetString(key)); err != nil {
			add("%s is not a duration: %v", key, err)
		}
	}
	if d, err := time.ParseDuration(v.GetString("client.retry_interval")); err == nil && d <= 0 {
		add("client.retry_interval must be greater than 0")
	}
	return errs
}
