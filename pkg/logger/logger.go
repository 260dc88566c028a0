package logger

import (
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var L = &logrus.Logger{
	Out:   os.Stderr,
	Level: logrus.InfoLevel,
	Hooks: make(logrus.LevelHooks),
	Formatter: &prefixed.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	},
}

// For returns an entry tagged with the component name, rendered as "[name]".
func For(component string) *logrus.Entry {
	return L.WithField("prefix", component)
}

// SetLevel parses a textual level ("debug", "info", ...); unknown values keep the current level.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.SetLevel(lvl)
	return nil
}
