package logging

import (
	"github.com/sirupsen/logrus"
)

// New builds the process logger. Unknown levels fall back to info rather than
// failing startup.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		logger.Warnf("unknown log level %q, using info", level)
	}
	logger.SetLevel(parsed)
	return logger
}
