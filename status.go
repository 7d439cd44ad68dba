// Copyright 2011 Google Inc. All Rights Reserved.
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
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// statusMu serializes status-line writes to stderr within this process;
// printStatus additionally takes a whole-file write lock on stderr so
// parallel redo processes sharing it never interleave a multi-part line
// (spec §5 "shared resources").
var statusMu sync.Mutex

var (
	okColor  = color.New(color.FgGreen)
	errColor = color.New(color.FgRed, color.Bold)
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stderr.Fd()) {
		okColor.DisableColor()
		errColor.DisableColor()
	}
}

// printStatus writes one "redo ok/err …" line per finished build step,
// matching the reference implementation's status-line convention.
func printStatus(trg string, res doResult, err error) {
	statusMu.Lock()
	defer statusMu.Unlock()
	if lockFile(os.Stderr, true, true) == nil {
		defer unlockFile(os.Stderr)
	}

	switch {
	case err != nil:
		errColor.Fprintf(os.Stderr, "redo err %s", trg)
		fmt.Fprintf(os.Stderr, ": %v\n", err)
	case res == doErr:
		errColor.Fprintf(os.Stderr, "redo err %s\n", trg)
	case res == doInt:
		errColor.Fprintf(os.Stderr, "redo int %s\n", trg)
	case res == trgSame:
		okColor.Fprintf(os.Stderr, "redo ")
		fmt.Fprintf(os.Stderr, "%s (unchanged)\n", trg)
	default:
		okColor.Fprintf(os.Stderr, "redo ")
		fmt.Fprintf(os.Stderr, "%s\n", trg)
	}
}
