package unifi

import "github.com/sirupsen/logrus"

// Logger is what the UniFi client and station source log through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogrusAdapter tags every line with component=unifi.
type LogrusAdapter struct {
	entry *logrus.Entry
}

func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{entry: logger.WithField("component", "unifi")}
}

func (la *LogrusAdapter) Debugf(format string, args ...interface{}) {
	la.entry.Debugf(format, args...)
}

func (la *LogrusAdapter) Infof(format string, args ...interface{}) {
	la.entry.Infof(format, args...)
}

func (la *LogrusAdapter) Warnf(format string, args ...interface{}) {
	la.entry.Warnf(format, args...)
}

func (la *LogrusAdapter) Errorf(format string, args ...interface{}) {
	la.entry.Errorf(format, args...)
}

// TestLogger writes through testing.T so output shows up with -v.
type TestLogger struct {
	t interface {
		Logf(format string, args ...interface{})
	}
}

func NewTestLogger(t interface {
	Logf(format string, args ...interface{})
}) *TestLogger {
	return &TestLogger{t: t}
}

func (tl *TestLogger) Debugf(format string, args ...interface{}) {
	tl.t.Logf("[DEBUG] "+format, args...)
}

func (tl *TestLogger) Infof(format string, args ...interface{}) {
	tl.t.Logf("[INFO] "+format, args...)
}

func (tl *TestLogger) Warnf(format string, args ...interface{}) {
	tl.t.Logf("[WARN] "+format, args...)
}

func (tl *TestLogger) Errorf(format string, args ...interface{}) {
	tl.t.Logf("[ERROR] "+format, args...)
}
