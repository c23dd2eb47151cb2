package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/consumer"
	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/optname"
	"github.com/castfetch/castfetch/pkg/remote"
	"github.com/castfetch/castfetch/pkg/transfer"
)

const EnvPrefix = "CASTFETCH"

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().String(optname.ConfigFile, "", "Read settings from this file (any format viper understands, e.g. castfetch.yaml)")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 30*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.IdleTimeout, remote.DefaultIdleTimeout, "Abort an attempt when no bytes arrive for this long")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 0, "Number of transport-level retries for a single request")
	cmd.PersistentFlags().Int(optname.MaxAttempts, 0, "Maximum number of download/resume attempts per file (0 means no limit)")
	cmd.PersistentFlags().Duration(optname.BackoffMin, 0, "Minimum wait between attempts")
	cmd.PersistentFlags().Duration(optname.BackoffMax, 0, "Maximum wait between attempts (0 disables waiting)")
	cmd.PersistentFlags().String(optname.ChunkSize, "100KiB", "Read/write chunk size (e.g. 64K, 1M)")
	cmd.PersistentFlags().String(optname.UserAgent, client.DefaultUserAgent, "User-Agent header sent with every request")
	cmd.PersistentFlags().StringSlice(optname.Resolve, []string{}, "Resolve hostnames to specific IPs")
	cmd.PersistentFlags().String(optname.Journal, "", "SQLite journal recording every outcome (empty disables)")
	cmd.PersistentFlags().Bool(optname.Progress, false, "Show a progress bar")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if path := viper.GetString(optname.ConfigFile); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))
	if _, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve)); err != nil {
		return err
	}
	return nil
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ResolveOverridesToMap turns host:port:ip entries into a map of
// host:port to ip:port for the dialer.
func ResolveOverridesToMap(resolveOverrides []string) (map[string]string, error) {
	logger := logging.GetLogger()
	var resolveOverridesMap map[string]string

	for _, resolveHost := range resolveOverrides {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		if resolveOverridesMap == nil {
			resolveOverridesMap = make(map[string]string)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if existing, ok := resolveOverridesMap[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", hostPort)
		}
		resolveOverridesMap[hostPort] = target
	}
	if logger.GetLevel() == zerolog.DebugLevel {
		for key, elem := range resolveOverridesMap {
			logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
		}
	}
	return resolveOverridesMap, nil
}

// ClientOptions builds the transport options from the current viper state.
func ClientOptions() (client.Options, error) {
	overrides, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve))
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		ConnectTimeout:   viper.GetDuration(optname.ConnTimeout),
		MaxRetries:       viper.GetInt(optname.Retries),
		UserAgent:        viper.GetString(optname.UserAgent),
		ResolveOverrides: overrides,
	}, nil
}

// TransferConfig builds the engine configuration. progress may be nil.
func TransferConfig(progress transfer.ProgressFunc) (transfer.Config, error) {
	chunkSize := consumer.DefaultChunkSize
	if raw := viper.GetString(optname.ChunkSize); raw != "" {
		parsed, err := humanize.ParseBytes(raw)
		if err != nil {
			return transfer.Config{}, fmt.Errorf("invalid %s %q: %w", optname.ChunkSize, raw, err)
		}
		if parsed == 0 || parsed > 64*humanize.MiByte {
			return transfer.Config{}, fmt.Errorf("invalid %s %q: must be between 1 byte and 64MiB", optname.ChunkSize, raw)
		}
		chunkSize = int(parsed)
	}

	policy := transfer.RetryPolicy{
		MaxAttempts: viper.GetInt(optname.MaxAttempts),
		BackoffMin:  viper.GetDuration(optname.BackoffMin),
		BackoffMax:  viper.GetDuration(optname.BackoffMax),
	}
	if policy.MaxAttempts < 0 {
		return transfer.Config{}, fmt.Errorf("invalid %s %d: must not be negative", optname.MaxAttempts, policy.MaxAttempts)
	}
	return transfer.Config{ChunkSize: chunkSize, Policy: policy, Progress: progress}, nil
}

// IdleTimeout is the per-read inactivity limit, falling back to the default
// for non-positive values.
func IdleTimeout() time.Duration {
	if d := viper.GetDuration(optname.IdleTimeout); d > 0 {
		return d
	}
	return remote.DefaultIdleTimeout
}
