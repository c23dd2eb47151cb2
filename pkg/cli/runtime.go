package cli

import (
	"github.com/spf13/viper"

	castfetch "github.com/castfetch/castfetch/pkg"
	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/config"
	"github.com/castfetch/castfetch/pkg/journal"
	"github.com/castfetch/castfetch/pkg/logging"
	"github.com/castfetch/castfetch/pkg/optname"
	"github.com/castfetch/castfetch/pkg/remote"
	"github.com/castfetch/castfetch/pkg/transfer"
)

// Runtime holds everything a command needs to run transfers, built once
// from the current configuration.
type Runtime struct {
	Getter  *castfetch.Getter
	journal *journal.Journal
}

func NewRuntime(progress transfer.ProgressFunc) (*Runtime, error) {
	clientOpts, err := config.ClientOptions()
	if err != nil {
		return nil, err
	}
	transferCfg, err := config.TransferConfig(progress)
	if err != nil {
		return nil, err
	}
	rc := remote.NewRangeClient(client.NewHTTPClient(clientOpts), config.IdleTimeout())

	rt := &Runtime{Getter: &castfetch.Getter{Engine: transfer.NewEngine(rc, transferCfg)}}
	j, err := OpenJournal()
	if err != nil {
		return nil, err
	}
	if j != nil {
		rt.journal = j
		rt.Getter.Journal = j
	}

	logger := logging.GetLogger()
	logger.Debug().
		Dur("connect_timeout", clientOpts.ConnectTimeout).
		Dur("idle_timeout", config.IdleTimeout()).
		Int("chunk_size", transferCfg.ChunkSize).
		Int("max_attempts", transferCfg.Policy.MaxAttempts).
		Bool("journal", j != nil).
		Msg("Config")
	return rt, nil
}

func (r *Runtime) Close() error {
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}

// OpenJournal opens the configured journal, or returns nil when none is
// configured.
func OpenJournal() (*journal.Journal, error) {
	path := viper.GetString(optname.Journal)
	if path == "" {
		return nil, nil
	}
	return journal.Open(path, logging.GetLogger())
}
