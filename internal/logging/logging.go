// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging wraps logrus with a process wide logger whose level,
// format and outputs are set once from command line flags.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const fieldsContextKey = contextKey("log_fields")

// Common field keys.
const (
	MailboxFieldKey   = "mailbox"
	MessageIDFieldKey = "message_id"
	ContainerFieldKey = "container"
	BlobFieldKey      = "blob"
	FileFieldKey      = "file"
	RequestIDFieldKey = "request_id"
	TriggerFieldKey   = "trigger"
)

const (
	defaultFileMaxSizeMB = 100
	defaultFilesKeep     = 3
)

var defaultLogger = logrus.New()

type Fields = logrus.Fields

// Logger is the subset of logrus used by this module.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	IsTracing() bool
	IsDebugging() bool
}

type entry struct {
	e *logrus.Entry
}

func (l *entry) WithField(key string, value interface{}) Logger {
	return &entry{l.e.WithField(key, value)}
}

func (l *entry) WithFields(fields Fields) Logger {
	return &entry{l.e.WithFields(fields)}
}

func (l *entry) WithError(err error) Logger {
	return &entry{l.e.WithError(err)}
}

func (l *entry) Trace(args ...interface{}) { l.e.Trace(args...) }
func (l *entry) Debug(args ...interface{}) { l.e.Debug(args...) }
func (l *entry) Info(args ...interface{})  { l.e.Info(args...) }
func (l *entry) Warn(args ...interface{})  { l.e.Warn(args...) }
func (l *entry) Error(args ...interface{}) { l.e.Error(args...) }

func (l *entry) Tracef(format string, args ...interface{}) { l.e.Tracef(format, args...) }
func (l *entry) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l *entry) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l *entry) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l *entry) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }

func (l *entry) IsTracing() bool {
	return l.e.Logger.IsLevelEnabled(logrus.TraceLevel)
}

func (l *entry) IsDebugging() bool {
	return l.e.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// Default returns a logger without fields.
func Default() Logger {
	return &entry{logrus.NewEntry(defaultLogger)}
}

// New returns a text logger writing to w at level, independent of the
// process wide logger.  An unknown level means info.
func New(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return &entry{logrus.NewEntry(l)}
}

// FromContext returns the default logger carrying any fields stored in ctx
// by AddFields.
func FromContext(ctx context.Context) Logger {
	fields, _ := ctx.Value(fieldsContextKey).(Fields)
	if len(fields) == 0 {
		return Default()
	}
	return Default().WithFields(fields)
}

// AddFields returns a context whose logger carries fields in addition to
// those already present.
func AddFields(ctx context.Context, fields Fields) context.Context {
	merged := Fields{}
	if existing, ok := ctx.Value(fieldsContextKey).(Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsContextKey, merged)
}

func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		defaultLogger.SetLevel(logrus.TraceLevel)
	case "debug":
		defaultLogger.SetLevel(logrus.DebugLevel)
	case "info":
		defaultLogger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		defaultLogger.SetLevel(logrus.WarnLevel)
	case "error":
		defaultLogger.SetLevel(logrus.ErrorLevel)
	case "null", "none":
		defaultLogger.SetLevel(logrus.PanicLevel)
		defaultLogger.SetOutput(io.Discard)
	}
}

// SetOutputs directs log output.  "-" is stdout, "=" is stderr, anything
// else is a file rotated by size.
func SetOutputs(outputs []string) {
	var writers []io.Writer
	for _, output := range outputs {
		switch output {
		case "":
			continue
		case "-":
			writers = append(writers, os.Stdout)
		case "=":
			writers = append(writers, os.Stderr)
		default:
			writers = append(writers, &lumberjack.Logger{
				Filename:   output,
				MaxSize:    defaultFileMaxSizeMB,
				MaxBackups: defaultFilesKeep,
			})
		}
	}
	switch len(writers) {
	case 0:
	case 1:
		defaultLogger.SetOutput(writers[0])
	default:
		defaultLogger.SetOutput(io.MultiWriter(writers...))
	}
}

func SetOutputFormat(format string) {
	switch strings.ToLower(format) {
	case "text":
		defaultLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			PadLevelText:           true,
			QuoteEmptyFields:       true,
		})
	case "json":
		defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Setup applies the three logging flags in one call.
func Setup(level, format string, outputs []string) {
	SetLevel(level)
	SetOutputFormat(format)
	SetOutputs(outputs)
}
