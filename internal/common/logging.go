package common

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

type LogOptions struct {
	// Level is one of logrus' level names, "info" when empty.
	Level string
	// Format is "text" or "json", "text" when empty.
	Format string
	// Journal also sends entries to the systemd journal, when it is
	// available.
	Journal    bool
	Identifier string
}

// SetupLogging configures the standard logrus logger.
func SetupLogging(opts LogOptions) error {
	if opts.Level == "" {
		opts.Level = "info"
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q, expected text or json", opts.Format)
	}

	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	logrus.AddHook(&BuildHook{})
	if opts.Journal && journal.Enabled() {
		logrus.AddHook(&JournalHook{Identifier: opts.Identifier})
	}

	return nil
}
