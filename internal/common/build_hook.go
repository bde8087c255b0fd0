package common

import (
	"github.com/sirupsen/logrus"
)

// BuildHook tags every entry with the version of the binary.
type BuildHook struct {
}

func (h *BuildHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *BuildHook) Fire(e *logrus.Entry) error {
	e.Data["version"] = Version
	e.Data["build_commit"] = BuildCommit

	return nil
}
