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
	"os"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// buffer is a simple inline buffer to avoid churn. The data slice is generally
// kept to the local byte array, and we avoid having to allocate it on the heap.
type buffer struct {
	local [256]byte
	data  []byte
}

func (b *buffer) start() {
	b.data = b.local[:0]
}

func (b *buffer) String() string {
	return string(b.data)
}

func (b *buffer) write(c byte) {
	b.data = append(b.data, c)
}

func (b *buffer) writeAll(d []byte) {
	b.data = append(b.data, d...)
}

// writeDigits writes v as exactly n zero padded decimal digits.
func (b *buffer) writeDigits(v, n int) {
	var tmp [8]byte
	for i := n - 1; i >= 0; i-- {
		tmp[i] = '0' + byte(v%10)
		v /= 10
	}
	b.writeAll(tmp[:n])
}

// padded returns the decimal representation of v, right aligned to pad columns.
func padded(v int, pad int) []byte {
	var d []byte
	for {
		d = append([]byte{'0' + byte(v%10)}, d...)
		v /= 10
		if v == 0 {
			break
		}
	}
	for len(d) < pad {
		d = append([]byte{' '}, d...)
	}
	return d
}

// pid is computed once at startup; the simulator runs in a single process.
var pid = padded(os.Getpid(), 7)

// caller is faked out in the output. It is unacceptable to walk the stack on
// every log call made from the trap path.
var caller = []byte("x:0")

// levelChar returns the single character glog uses for the level.
func levelChar(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg...
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var b buffer
	b.start()

	b.write(levelChar(level))

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	b.writeDigits(int(month), 2)
	b.writeDigits(day, 2)
	b.write(' ')
	b.writeDigits(hour, 2)
	b.write(':')
	b.writeDigits(minute, 2)
	b.write(':')
	b.writeDigits(second, 2)
	b.write('.')
	b.writeDigits(timestamp.Nanosecond()/1000, 6)
	b.write(' ')

	b.writeAll(pid)
	b.write(' ')
	b.writeAll(caller)
	b.write(']')
	b.write(' ')

	// The user format string is copied so the args are expanded once, by the
	// underlying emitter.
	b.writeAll([]byte(format))
	b.write('\n')

	g.Emitter.Emit(depth+1, level, timestamp, b.String(), args...)
}
