package mylog

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat/go-file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"voting-ledger/config"
)

func RotateLog(abspath string) (*rotatelogs.RotateLogs, error) {
	logFile, err := rotatelogs.New(
		abspath+"%Y%m%d%H%M.log",
		rotatelogs.WithLinkName(abspath+".log"),
		rotatelogs.WithMaxAge(24*time.Hour*7),
		rotatelogs.WithRotationTime(time.Hour*24),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to init log %s", abspath)
	}
	return logFile, nil
}

// InitLogger configures the standard logrus logger from cfg. Every package
// logs through logrus.WithField("module", ...), so this is the only place
// outputs are chosen.
func InitLogger(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	formatter := new(logrus.TextFormatter)
	formatter.ForceColors = cfg.Stdout && !cfg.File
	formatter.TimestampFormat = "2006-01-02 15:04:05.000000"
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)
	logrus.SetReportCaller(cfg.LineNumber)

	var writers []io.Writer
	if cfg.Stdout {
		writers = append(writers, os.Stdout)
	}

	if cfg.File {
		folder, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return errors.Wrapf(err, "error on parsing log path: %s", cfg.Dir)
		}
		if err := os.MkdirAll(folder, os.ModePerm); err != nil {
			return errors.Wrapf(err, "error on creating log dir: %s", folder)
		}
		run, err := RotateLog(filepath.Join(folder, "run"))
		if err != nil {
			return err
		}
		writers = append(writers, run)

		if cfg.ByLevel {
			writerMap := lfshook.WriterMap{}
			for _, lvl := range []logrus.Level{
				logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel,
				logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel,
			} {
				w, err := RotateLog(filepath.Join(folder, lvl.String()))
				if err != nil {
					return err
				}
				writerMap[lvl] = w
			}
			logrus.AddHook(lfshook.NewHook(writerMap, &logrus.JSONFormatter{}))
		}
	}

	switch len(writers) {
	case 0:
		logrus.SetOutput(io.Discard)
	case 1:
		logrus.SetOutput(writers[0])
	default:
		logrus.SetOutput(io.MultiWriter(writers...))
	}

	logrus.WithField("level", level).Debug("logger initialized")
	return nil
}
