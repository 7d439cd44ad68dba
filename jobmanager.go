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
	"io"
	"os"
	"os/exec"
)

// Job manager message kinds (spec §4.9). Encoded as a single little-endian
// int32 on the wire, matching this package's other fixed-width encodings.
const (
	jobNew int32 = iota
	jobDone
	jobErr
)

// JMInternalFlag is the hidden argv[1] marker cmd/redo's main uses to
// recognize a self-re-exec into the job-manager role rather than a normal
// front-end invocation.
const JMInternalFlag = "__redo_jobmanager__"

// StartJobManager spawns the job manager as a child process (self-re-exec,
// since Go has no raw fork) bounding concurrent .do executions to cap
// (cap<=0 means unbounded). It returns the request-write and reply-read
// ends the top-level process and its descendants use to talk to it.
func StartJobManager(cap int) (reqW, repR *os.File, err error) {
	reqR, reqWl, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("redo: job manager request pipe: %w", err)
	}
	repRl, repW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqWl.Close()
		return nil, nil, fmt.Errorf("redo: job manager reply pipe: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("redo: locate executable for job manager: %w", err)
	}
	cmd := exec.Command(self, JMInternalFlag, fmt.Sprint(cap))
	cmd.ExtraFiles = []*os.File{reqR, repW}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("redo: start job manager: %w", err)
	}
	// The manager owns reqR/repW in its own fd table (inherited as fd 3/4);
	// this process only needs the other two ends.
	reqR.Close()
	repW.Close()

	return reqWl, repRl, nil
}

// RunJobManager is the job manager's main loop, invoked by cmd/redo's main
// when it detects JMInternalFlag. reqR and repW are fd 3 and 4 inherited
// from StartJobManager's ExtraFiles.
func RunJobManager(cap int) error {
	reqR := os.NewFile(3, "jm-req-r")
	repW := os.NewFile(4, "jm-rep-w")
	defer reqR.Close()
	defer repW.Close()
	return runJobManagerLoop(reqR, repW, cap)
}

// runJobManagerLoop is RunJobManager's core accounting loop, split out so
// it can be driven over in-process pipes in tests.
func runJobManagerLoop(reqR, repW *os.File, cap int) error {
	rjobs := 0
	pjobs := 0
	for {
		msg, err := readInt32(reqR)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redo: job manager: read: %w", err)
		}
		switch msg {
		case jobNew:
			if cap <= 0 || rjobs < cap {
				rjobs++
				SetActiveBuilds(rjobs)
				if err := writeInt32(repW, 1); err != nil {
					return err
				}
			} else {
				pjobs++
			}
		case jobDone:
			if pjobs > 0 {
				pjobs--
				if err := writeInt32(repW, 1); err != nil {
					return err
				}
			} else if rjobs > 0 {
				rjobs--
				SetActiveBuilds(rjobs)
			} else {
				return fmt.Errorf("redo: job manager: JOBDONE with no running jobs")
			}
		case jobErr:
			return fmt.Errorf("redo: job manager: worker reported failure")
		default:
			return fmt.Errorf("redo: job manager: unknown message %d", msg)
		}
	}
}

// JMAdmit asks the job manager for permission to start one more concurrent
// .do execution, blocking until granted. A no-op if ctx has no manager
// (serial build, -j 1).
func JMAdmit(ctx *Ctx) error {
	if ctx.JMWFD < 0 {
		return nil
	}
	w, r := ctx.JobManagerFiles()
	if err := writeInt32(w, jobNew); err != nil {
		return fmt.Errorf("redo: job manager request: %w", err)
	}
	grant, err := readInt32(r)
	if err != nil {
		return fmt.Errorf("redo: job manager reply: %w", err)
	}
	if grant != 1 {
		return fmt.Errorf("redo: job manager: unexpected grant value %d", grant)
	}
	return nil
}

// JMRelease tells the job manager a concurrent branch finished.
func JMRelease(ctx *Ctx) error {
	if ctx.JMWFD < 0 {
		return nil
	}
	w, _ := ctx.JobManagerFiles()
	return writeInt32(w, jobDone)
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}
