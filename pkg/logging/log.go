package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func SetupLogger() {
	// Color stays off so redirected output carries no ANSI escape codes
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: true}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("[ %s ]", i)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func GetLogger() zerolog.Logger {
	return log.Logger
}

// ForTransfer returns the global logger with the fields that identify one
// transfer request attached, so every line of a request can be grepped by id.
func ForTransfer(id, url, dest string) zerolog.Logger {
	return log.Logger.With().
		Str("transfer_id", id).
		Str("url", url).
		Str("dest", dest).
		Logger()
}

// FromContext returns the logger attached with zerolog's WithContext, or the
// global logger when there is none.
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return GetLogger()
}
