// Copyright 2026 Google LLC
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

// Package logging is the process-wide logger used by the looper commands.
// Library packages take a logrus.FieldLogger instead; Logger() hands out the
// one configured here.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var std = New(os.Stderr)

// New builds a logrus logger writing level-prefixed lines to w. Colors are
// only used when w is a terminal.
func New(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&prefixFormatter{colors: isTerminal(w)})
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Logger returns the process-wide logger.
func Logger() *logrus.Logger {
	return std
}

// SetLevel parses and applies a level name such as "debug" or "warn".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	std.SetLevel(lvl)
	return nil
}

// Debug logs a formatted debug message.
func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs a formatted informational message.
func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Warn logs a formatted warning.
func Warn(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Error logs a formatted error.
func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Fatal logs a formatted error and exits with status 1.
func Fatal(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}

// WithFields returns an entry carrying structured context, e.g. the lump id.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// prefixFormatter renders "LEVEL: message key=value ..." lines.
type prefixFormatter struct {
	colors bool
}

var levelColors = map[logrus.Level]*color.Color{
	logrus.DebugLevel: color.New(color.FgHiBlack),
	logrus.InfoLevel:  color.New(color.FgCyan),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
}

func (f *prefixFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer

	prefix := strings.ToUpper(entry.Level.String())
	if c, ok := levelColors[entry.Level]; ok && f.colors {
		c.EnableColor()
		prefix = c.Sprint(prefix)
	}
	buf.WriteString(prefix)
	buf.WriteString(": ")
	buf.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
