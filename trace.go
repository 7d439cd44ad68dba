// Copyright 2012 Google Inc. All Rights Reserved.
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

package redo

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	traceOnce sync.Once
	traceLog  *logrus.Logger
)

// tracer returns the package's debug logger, built once and gated on
// REDO_DEBUG. Unset or "0" leaves it at Info level, so Debug lines are
// dropped; any other value enables Debug-level tracing of resolver probes
// and freshness decisions.
func tracer() *logrus.Logger {
	traceOnce.Do(func() {
		l := logrus.New()
		l.Out = os.Stderr
		l.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
		l.Level = logrus.InfoLevel
		if v := os.Getenv("REDO_DEBUG"); v != "" && v != "0" {
			l.Level = logrus.DebugLevel
		}
		traceLog = l
	})
	return traceLog
}

// explain logs a debug-level trace line, named after the reference
// implementation's EXPLAIN() helper.
func explain(format string, args ...interface{}) {
	tracer().Debugf(format, args...)
}
