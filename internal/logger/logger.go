// Package logger はアプリケーション共通の logrus ロガーを構成します。
package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New は LOG_LEVEL 環境変数に従って構成済みのロガーを返します。
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		log.SetLevel(logrus.DebugLevel)
	case "WARN":
		log.SetLevel(logrus.WarnLevel)
	case "ERROR":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}
