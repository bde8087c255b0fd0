// Inspired by github.com/wercker/journalhook (MIT license)
package common

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// JournalHook sends entries to the systemd journal with their fields as
// journal variables (job_id becomes JOB_ID).
type JournalHook struct {
	Identifier string
}

var severityMap = map[logrus.Level]journal.Priority{
	logrus.TraceLevel: journal.PriDebug,
	logrus.DebugLevel: journal.PriDebug,
	logrus.InfoLevel:  journal.PriInfo,
	logrus.WarnLevel:  journal.PriWarning,
	logrus.ErrorLevel: journal.PriErr,
	logrus.FatalLevel: journal.PriCrit,
	logrus.PanicLevel: journal.PriEmerg,
}

func journalKeyRune(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return r
	case r >= 'a' && r <= 'z':
		return r - 'a' + 'A'
	}
	return '_'
}

// journald rejects variable names with a leading underscore, those are
// reserved for trusted fields
func journalKey(key string) string {
	return strings.TrimLeft(strings.Map(journalKeyRune, key), "_")
}

func journalVars(identifier string, data logrus.Fields) map[string]string {
	vars := make(map[string]string, len(data)+1)
	for k, v := range data {
		key := journalKey(k)
		if key == "" {
			continue
		}
		vars[key] = fmt.Sprint(v)
	}
	if identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = identifier
	}
	return vars
}

func (hook *JournalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, severityMap[entry.Level], journalVars(hook.Identifier, entry.Data))
}

func (hook *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
