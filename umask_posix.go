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

//go:build !windows

package redo

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// umask(2) has no "peek" mode: the only way to read it is to set it and
// restore it immediately. Guard with a mutex since this briefly perturbs
// process-wide state.
var umaskMu sync.Mutex

func getUmask() os.FileMode {
	umaskMu.Lock()
	defer umaskMu.Unlock()
	old := unix.Umask(0o022)
	unix.Umask(old)
	return os.FileMode(old)
}
