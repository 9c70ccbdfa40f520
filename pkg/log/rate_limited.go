// Copyright 2025 The Linmo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// limitedLogger passes messages to Logger while its limiter allows and drops
// the rest. The first message through after a drop is preceded by a count of
// what was lost, so a fault storm leaves a trace of its size.
type limitedLogger struct {
	Logger
	limit   *rate.Limiter
	dropped atomic.Uint64
}

func (l *limitedLogger) pass(logf func(string, ...any)) bool {
	if !l.limit.Allow() {
		l.dropped.Add(1)
		return false
	}
	if n := l.dropped.Swap(0); n > 0 {
		logf("log: %d messages suppressed", n)
	}
	return true
}

// Debugf implements Logger.Debugf.
func (l *limitedLogger) Debugf(format string, v ...any) {
	if l.pass(l.Logger.Debugf) {
		l.Logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (l *limitedLogger) Infof(format string, v ...any) {
	if l.pass(l.Logger.Infof) {
		l.Logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (l *limitedLogger) Warningf(format string, v ...any) {
	if l.pass(l.Logger.Warningf) {
		l.Logger.Warningf(format, v...)
	}
}

// BurstLimitedLogger returns a Logger that passes burst messages at once and
// then one message per every to logger. A burst below one is one.
func BurstLimitedLogger(logger Logger, every time.Duration, burst int) Logger {
	return &limitedLogger{
		Logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), max(burst, 1)),
	}
}
