// utils/logger.go
package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the shared structured logger. LOG_LEVEL selects the
// level (default info); LOG_FORMAT=json switches to JSON output for
// production deployments.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
