// Copyright © 2019 mg
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package proglog provides the logging capability passed to every
// programmer component, replacing the source's process-wide `static int
// debug` flag with an explicit collaborator.
package proglog

import (
	"github.com/sirupsen/logrus"
)

// Logger is the capability every component depends on instead of reaching
// for a global. Mirrors the shape of the teacher's mgnes.Logger, extended
// with leveled helpers.
type Logger interface {
	Log(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger is the default Logger, backed by logrus.
type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger backed by logrus, with the given field attached to
// every line (e.g. the session or probe identity).
func New(component string) Logger {
	l := logrus.New()
	return &logrusLogger{entry: l.WithField("component", component)}
}

func (l *logrusLogger) Log(msg string) { l.entry.Info(msg) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// nopLogger discards everything. Used by tests and by callers that have
// not wired a real logger.
type nopLogger struct{}

// Nop returns a Logger that discards all messages.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Log(string)                      {}
func (nopLogger) Debugf(string, ...interface{})   {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Warnf(string, ...interface{})    {}
func (nopLogger) Errorf(string, ...interface{})   {}
