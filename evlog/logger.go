package evlog

import "github.com/sirupsen/logrus"

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	// With returns a logger that attaches key=value to every entry.
	With(key string, value interface{}) Logger
}

var logger = NewNoneLogger()

func SetLogger(l Logger) {
	if l == nil {
		l = NewNoneLogger()
	}
	logger = l
}

func GetLogger() Logger {
	return logger
}

func With(key string, value interface{}) Logger {
	return logger.With(key, value)
}

func Debug(args ...interface{}) {
	logger.Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Info(args ...interface{}) {
	logger.Info(args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warning(args ...interface{}) {
	logger.Warning(args...)
}

func Warningf(format string, args ...interface{}) {
	logger.Warningf(format, args...)
}

func Error(args ...interface{}) {
	logger.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func Fatal(args ...interface{}) {
	logger.Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

func NewDebugLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return &stdLogger{entry: logrus.NewEntry(l)}
}

func NewLogger() Logger {
	return &stdLogger{entry: logrus.NewEntry(logrus.New())}
}

// NewLevelLogger parses a logrus level name ("debug", "info", "warning", ...).
// "none" returns the silent logger.
func NewLevelLogger(level string) (Logger, error) {
	if level == "none" {
		return NewNoneLogger(), nil
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(lv)
	return &stdLogger{entry: logrus.NewEntry(l)}, nil
}

type stdLogger struct {
	entry *logrus.Entry
}

func (l *stdLogger) With(key string, value interface{}) Logger {
	return &stdLogger{entry: l.entry.WithField(key, value)}
}

func (l *stdLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *stdLogger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *stdLogger) Warning(args ...interface{}) {
	l.entry.Warning(args...)
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warningf(format, args...)
}

func (l *stdLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *stdLogger) Fatal(args ...interface{}) {
	l.entry.Fatal(args...)
}

func (l *stdLogger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

func NewNoneLogger() Logger {
	return &noneLogger{}
}

type noneLogger struct{}

func (l *noneLogger) With(key string, value interface{}) Logger { return l }

func (l *noneLogger) Debug(args ...interface{}) {}

func (l *noneLogger) Debugf(format string, args ...interface{}) {}

func (l *noneLogger) Info(args ...interface{}) {}

func (l *noneLogger) Infof(format string, args ...interface{}) {}

func (l *noneLogger) Warning(args ...interface{}) {}

func (l *noneLogger) Warningf(format string, args ...interface{}) {}

func (l *noneLogger) Error(args ...interface{}) {}

func (l *noneLogger) Errorf(format string, args ...interface{}) {}

func (l *noneLogger) Fatal(args ...interface{}) {}

func (l *noneLogger) Fatalf(format string, args ...interface{}) {}
