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
	"encoding/binary"
	"fmt"
	"os"
)

// lockResult is the outcome of acquireExclusiveLock (spec §4.4).
type lockResult int

const (
	lckErr lockResult = iota
	lckCycle
	lckRel
	lckAcq
)

func (r lockResult) String() string {
	switch r {
	case lckErr:
		return "LCKERR"
	case lckCycle:
		return "DEPCYCL"
	case lckRel:
		return "LCKREL"
	case lckAcq:
		return "LCKACQ"
	default:
		return "?"
	}
}

// targetLock holds the open fd of a per-target lock file (spec §3's "lock
// file") while its holder is building. Bytes [0,2) carry the exclusive
// build lock; byte [1,2) is additionally the pid-readable barrier.
type targetLock struct {
	f    *os.File
	path string
	held bool
}

// acquireExclusiveLock implements the state machine of spec §4.4. underJM
// indicates the caller is running under the job manager (any -j other than
// 1), which
// suppresses cycle detection since parallel branches share one toppid.
func acquireExclusiveLock(path string, toppid int, underJM bool) (*targetLock, lockResult, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, lckErr, fmt.Errorf("redo: open lock %s: %w", path, err)
	}
	lk := &targetLock{f: f, path: path}

	ok, err := tryLockRange(f, 0, 2)
	if err != nil {
		f.Close()
		return nil, lckErr, err
	}
	if ok {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(toppid))
		if _, err := f.WriteAt(buf[:], 0); err != nil {
			unlockRange(f, 0, 2)
			f.Close()
			return nil, lckErr, fmt.Errorf("redo: write toppid: %w", err)
		}
		// Release the narrower pid-readable barrier immediately so waiters
		// blocked reading it unblock as soon as toppid is durable.
		if err := unlockRange(f, 1, 1); err != nil {
			f.Close()
			return nil, lckErr, err
		}
		lk.held = true
		return lk, lckAcq, nil
	}

	// Someone else holds it. Block until the holder's toppid is readable.
	if err := lockRangeWait(f, 1, 1); err != nil {
		f.Close()
		return nil, lckErr, err
	}
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		f.Close()
		return nil, lckErr, fmt.Errorf("redo: read toppid: %w", err)
	}
	otherTop := int(binary.LittleEndian.Uint64(buf[:]))
	unlockRange(f, 1, 1)

	if !underJM && otherTop == toppid {
		f.Close()
		IncLockWait(lckCycle.String())
		return nil, lckCycle, nil
	}

	// Block until the holder finishes and releases the wide exclusive range.
	if err := lockRangeWait(f, 0, 2); err != nil {
		f.Close()
		return nil, lckErr, err
	}
	unlockRange(f, 0, 2)
	f.Close()
	IncLockWait(lckRel.String())
	return nil, lckRel, nil
}

// release drops the exclusive lock and removes the lock file, as done on
// the success path of the holder (spec §3 "Lifecycles").
func (lk *targetLock) release() error {
	if lk == nil || !lk.held {
		return nil
	}
	defer lk.f.Close()
	if err := unlockRange(lk.f, 0, 2); err != nil {
		return err
	}
	lk.held = false
	if err := os.Remove(lk.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("redo: remove lock %s: %w", lk.path, err)
	}
	return nil
}
