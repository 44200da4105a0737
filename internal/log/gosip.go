package log

import (
	"maps"

	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
)

// gosipAdapter exposes the logrus backend through gosip's Logger interface.
type gosipAdapter struct {
	entry  *logrus.Entry
	prefix string
	fields gosiplog.Fields
}

// GosipLogger returns a gosip logger writing to the configured outputs.
// Call it after Init so that it picks up the configured level and writers.
func GosipLogger() gosiplog.Logger {
	return &gosipAdapter{
		entry:  logrus.NewEntry(currentBackend()),
		fields: gosiplog.Fields{},
	}
}

func (a *gosipAdapter) Fields() gosiplog.Fields {
	return maps.Clone(a.fields)
}

func (a *gosipAdapter) WithFields(fields map[string]interface{}) gosiplog.Logger {
	merged := maps.Clone(a.fields)
	maps.Copy(merged, fields)
	return &gosipAdapter{
		entry:  a.entry.WithFields(fields),
		prefix: a.prefix,
		fields: merged,
	}
}

func (a *gosipAdapter) Prefix() string {
	return a.prefix
}

func (a *gosipAdapter) WithPrefix(prefix string) gosiplog.Logger {
	return &gosipAdapter{
		entry:  a.entry.WithField(prefixKey, prefix),
		prefix: prefix,
		fields: a.fields,
	}
}

func (a *gosipAdapter) Print(args ...interface{})                 { a.entry.Print(args...) }
func (a *gosipAdapter) Printf(format string, args ...interface{}) { a.entry.Printf(format, args...) }

func (a *gosipAdapter) Trace(args ...interface{})                 { a.entry.Trace(args...) }
func (a *gosipAdapter) Tracef(format string, args ...interface{}) { a.entry.Tracef(format, args...) }

func (a *gosipAdapter) Debug(args ...interface{})                 { a.entry.Debug(args...) }
func (a *gosipAdapter) Debugf(format string, args ...interface{}) { a.entry.Debugf(format, args...) }

func (a *gosipAdapter) Info(args ...interface{})                 { a.entry.Info(args...) }
func (a *gosipAdapter) Infof(format string, args ...interface{}) { a.entry.Infof(format, args...) }

func (a *gosipAdapter) Warn(args ...interface{})                 { a.entry.Warn(args...) }
func (a *gosipAdapter) Warnf(format string, args ...interface{}) { a.entry.Warnf(format, args...) }

func (a *gosipAdapter) Error(args ...interface{})                 { a.entry.Error(args...) }
func (a *gosipAdapter) Errorf(format string, args ...interface{}) { a.entry.Errorf(format, args...) }

func (a *gosipAdapter) Fatal(args ...interface{})                 { a.entry.Fatal(args...) }
func (a *gosipAdapter) Fatalf(format string, args ...interface{}) { a.entry.Fatalf(format, args...) }

func (a *gosipAdapter) Panic(args ...interface{})                 { a.entry.Panic(args...) }
func (a *gosipAdapter) Panicf(format string, args ...interface{}) { a.entry.Panicf(format, args...) }

// SetLevel sets the level of the shared backend; gosip levels mirror
// logrus levels.
func (a *gosipAdapter) SetLevel(level uint32) {
	a.entry.Logger.SetLevel(logrus.Level(level))
}
