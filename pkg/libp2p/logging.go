package libp2p

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/sirupsen/logrus"
)

// SetupLogging sets the application log level and keeps libp2p's own
// loggers one step quieter.
func SetupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logging.SetAllLoggers(libp2pLevel(lvl))
	quietSubsystems()
	return nil
}

func libp2pLevel(lvl logrus.Level) logging.LogLevel {
	switch {
	case lvl >= logrus.TraceLevel:
		return logging.LevelDebug
	case lvl >= logrus.DebugLevel:
		return logging.LevelInfo
	case lvl >= logrus.InfoLevel:
		return logging.LevelWarn
	default:
		return logging.LevelError
	}
}
