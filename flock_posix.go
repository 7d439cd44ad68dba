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

	"golang.org/x/sys/unix"
)

// tryLockRange attempts a non-blocking exclusive write lock on the byte
// range [off, off+ln) of f. ok is false (no error) if another process
// already holds a conflicting lock there.
func tryLockRange(f *os.File, off, ln int64) (ok bool, err error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  off,
		Len:    ln,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk); err != nil {
		if err == unix.EAGAIN || err == unix.EACCES {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// lockRangeWait takes a blocking read lock on [off, off+ln), used as the
// "pid is readable" and "holder finished" barriers of spec §4.4.
func lockRangeWait(f *os.File, off, ln int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_RDLCK,
		Whence: 0,
		Start:  off,
		Len:    ln,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk)
}

// unlockRange releases any lock this process holds on [off, off+ln).
func unlockRange(f *os.File, off, ln int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  off,
		Len:    ln,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
}

// lockFile takes a whole-file advisory lock on f, blocking until available.
func lockFile(f *os.File, exclusive, blocking bool) error {
	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}
	lk := unix.Flock_t{Type: typ, Whence: 0, Start: 0, Len: 0}
	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}
	return unix.FcntlFlock(f.Fd(), cmd, &lk)
}

// unlockFile releases a whole-file lock taken by lockFile.
func unlockFile(f *os.File) error {
	lk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
}
