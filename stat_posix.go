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
	"fmt"
	"os"
	"syscall"
)

// statPath stats path and returns its (ino, mtime) fingerprint. ok is false
// and err is nil if the file does not exist.
func statPath(path string) (st Stat, ok bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Stat{}, false, nil
		}
		return Stat{}, false, fmt.Errorf("redo: stat %s: %w", path, err)
	}
	sys, ok2 := fi.Sys().(*syscall.Stat_t)
	if !ok2 {
		return Stat{}, false, fmt.Errorf("redo: stat %s: unsupported platform stat_t", path)
	}
	return Stat{
		Ino:  uint64(sys.Ino),
		Sec:  int64(sys.Mtim.Sec),
		Nsec: int64(sys.Mtim.Nsec),
	}, true, nil
}
