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

// Package util groups helpers used by pmpsim commands.
package util

import (
	"fmt"
	"io"
	"os"

	"linmo.dev/linmo/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the user, unlike logs which go to the debug log.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message as Errorf and exits with status 128.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// Errorf writes the message to the error log and to the debug log.
func Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintln(ErrorLogger, "pmpsim: "+msg)
}
