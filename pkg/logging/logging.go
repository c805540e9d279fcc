// Package logging строит logrus логгеры демона: вывод идет через хуки
// в консоль и в файл с ротацией, у каждого приемника свой минимальный уровень.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arzzra/soft_bridge/pkg/config"
)

// Logging набор логгеров демона и файл с ротацией
type Logging struct {
	Core   *logrus.Entry
	Bridge *logrus.Entry

	file *lumberjack.Logger
}

// New создает логгеры по секции [logging].
//
// Сам логгер пишет в io.Discard, вывод идет через хуки:
//   - консольный хук получает уровни не ниже ConsoleLevel
//   - файловый хук (если задан File) пишет в lumberjack с ротацией по MaxSize
//
// Уровень Level отсекает записи до хуков. Если console равен nil,
// используется os.Stdout.
func New(cfg config.LoggingConfig, console io.Writer) *Logging {
	if console == nil {
		console = os.Stdout
	}

	l := &Logging{}
	var file io.Writer
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
		}
		file = l.file
	}

	level := ToLogrusLevel(cfg.Level)
	consoleMin := ToLogrusLevel(cfg.ConsoleLevel)
	fileMin := ToLogrusLevel(cfg.FileLevel)

	l.Core = newLogger("core", level, consoleMin, fileMin, console, file)
	l.Bridge = newLogger("bridge", level, consoleMin, fileMin, console, file)
	return l
}

// Close закрывает файл логов
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// writerHook пишет записи указанных уровней в Writer
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, console, file io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: console, LogLevels: availableLevels(consoleMin)})
	if file != nil {
		logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin)})
	}
	return logger.WithField("component", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

// ToLogrusLevel переводит уровень из конфигурации в logrus.
// 0 trace, 1 debug, 2 info, 3 warn, 4 error, 5 fatal, больше - выключено.
func ToLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel
	}
}
