package common

import (
	"encoding/json"
	"io"

	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
)

// EchoLogrusLogger makes echo log through the standard logrus logger. Level,
// output and prefix are owned by logrus; echo's setters are ignored.
type EchoLogrusLogger struct {
	*logrus.Entry
}

func NewEchoLogrusLogger(entry *logrus.Entry) *EchoLogrusLogger {
	return &EchoLogrusLogger{Entry: entry}
}

func toEchoLevel(level logrus.Level) log.Lvl {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return log.DEBUG
	case logrus.InfoLevel:
		return log.INFO
	case logrus.WarnLevel:
		return log.WARN
	case logrus.ErrorLevel:
		return log.ERROR
	}
	return log.OFF
}

func toJSON(j log.JSON) string {
	b, err := json.Marshal(j)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func (l *EchoLogrusLogger) Output() io.Writer {
	return l.Logger.Out
}

// echo must not change the output of the global logger
func (l *EchoLogrusLogger) SetOutput(w io.Writer) {
}

func (l *EchoLogrusLogger) Prefix() string {
	return ""
}

func (l *EchoLogrusLogger) SetPrefix(p string) {
}

func (l *EchoLogrusLogger) Level() log.Lvl {
	return toEchoLevel(l.Logger.GetLevel())
}

func (l *EchoLogrusLogger) SetLevel(v log.Lvl) {
}

func (l *EchoLogrusLogger) SetHeader(h string) {
}

func (l *EchoLogrusLogger) Printj(j log.JSON) {
	l.Entry.Print(toJSON(j))
}

func (l *EchoLogrusLogger) Debugj(j log.JSON) {
	l.Entry.Debug(toJSON(j))
}

func (l *EchoLogrusLogger) Infoj(j log.JSON) {
	l.Entry.Info(toJSON(j))
}

func (l *EchoLogrusLogger) Warnj(j log.JSON) {
	l.Entry.Warn(toJSON(j))
}

func (l *EchoLogrusLogger) Errorj(j log.JSON) {
	l.Entry.Error(toJSON(j))
}

func (l *EchoLogrusLogger) Fatalj(j log.JSON) {
	l.Entry.Fatal(toJSON(j))
}

func (l *EchoLogrusLogger) Panicj(j log.JSON) {
	l.Entry.Panic(toJSON(j))
}
