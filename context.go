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
	"strconv"
)

// Environment variable names making up the parent/child contract described
// in the package's env.
const (
	envLevel  = "_REDO_LEVEL"
	envTopWD  = "_REDO_TOPWD"
	envTopPID = "_REDO_TOPPID"
	envDepFD  = "_REDO_DEPFD"
	envJMRFD  = "_REDO_JMRFD"
	envJMWFD  = "_REDO_JMWFD"
	envFsync  = "REDO_FSYNC"
)

// Ctx is the per-invocation program state threaded explicitly through every
// component (spec's "global program state" design note): pid, the top-level
// pid used as a lock-ownership token, the recursion level, the parent's
// dependency-log fd, and the job manager pipes.
type Ctx struct {
	Pid    int
	TopPID int
	Lvl    int

	// PDepFD is the fd of the parent's dependency log, or -1 at the top level.
	PDepFD int

	TopWD string
	WD    string

	DMode os.FileMode
	FMode os.FileMode

	Fsync bool

	// JMRFD/JMWFD are the job manager's reply/request pipe fds, or -1 if no
	// job manager is running (serial build).
	JMRFD int
	JMWFD int

	// pDepF/jmrF/jmwF cache the *os.File wrapping PDepFD/JMRFD/JMWFD, built
	// at most once per Ctx. os.NewFile registers a finalizer that closes the
	// underlying fd when the wrapper is collected, so re-wrapping the same
	// long-lived inherited fd on every call risks a GC cycle closing it out
	// from under every other live reference to that fd number; these fields
	// let depLogFile/jmWriteFile/jmReadFile hand out the same wrapper every
	// time instead.
	pDepF *os.File
	jmrF  *os.File
	jmwF  *os.File
}

// depLogFile returns the retained wrapper around PDepFD, the parent's
// dependency log fd, or nil if this Ctx has none. Callers must not close it
// themselves; it is owned by this Ctx for its lifetime.
func (c *Ctx) depLogFile() *os.File {
	if c.PDepFD < 0 {
		return nil
	}
	if c.pDepF == nil {
		c.pDepF = os.NewFile(uintptr(c.PDepFD), "depfd")
	}
	return c.pDepF
}

// jmWriteFile returns the retained wrapper around JMWFD, or nil if this Ctx
// has no job manager.
func (c *Ctx) jmWriteFile() *os.File {
	if c.JMWFD < 0 {
		return nil
	}
	if c.jmwF == nil {
		c.jmwF = os.NewFile(uintptr(c.JMWFD), "jmwfd")
	}
	return c.jmwF
}

// jmReadFile returns the retained wrapper around JMRFD, or nil if this Ctx
// has no job manager.
func (c *Ctx) jmReadFile() *os.File {
	if c.JMRFD < 0 {
		return nil
	}
	if c.jmrF == nil {
		c.jmrF = os.NewFile(uintptr(c.JMRFD), "jmrfd")
	}
	return c.jmrF
}

// SetJobManagerFiles records w/r as this Ctx's job manager pipe ends,
// retaining the given *os.File values themselves rather than their fd
// numbers, so cmd/redo's main (which owns them fresh from StartJobManager)
// never needs to re-wrap them. Exported for cmd/redo's use.
func (c *Ctx) SetJobManagerFiles(w, r *os.File) {
	c.JMWFD = int(w.Fd())
	c.JMRFD = int(r.Fd())
	c.jmwF = w
	c.jmrF = r
}

// JobManagerFiles returns this Ctx's job manager pipe ends, wrapping them at
// most once, for callers (such as cmd/redo's spawnWorker) that need to pass
// them again to a grandchild's cmd.ExtraFiles without creating a second,
// finalizer-bearing wrapper around the same fd numbers.
func (c *Ctx) JobManagerFiles() (w, r *os.File) {
	return c.jmWriteFile(), c.jmReadFile()
}

// NewTopCtx builds the Ctx for a top-level redo invocation (lvl 0), deriving
// dmode/fmode from the process umask the way the reference implementation
// does.
func NewTopCtx() (*Ctx, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("redo: getwd: %w", err)
	}
	pid := os.Getpid()
	dmode, fmode := modesFromUmask()
	return &Ctx{
		Pid:    pid,
		TopPID: pid,
		Lvl:    0,
		PDepFD: -1,
		TopWD:  wd,
		WD:     wd,
		DMode:  dmode,
		FMode:  fmode,
		Fsync:  fsyncEnabled(),
		JMRFD:  -1,
		JMWFD:  -1,
	}, nil
}

// CtxFromEnviron reconstructs the Ctx of a child redo process (a recursive
// redo-ifchange/redo-ifcreate invoked from a running .do script) from the
// environment variables its parent exported, per the env contract.
func CtxFromEnviron() (*Ctx, error) {
	lvlStr := os.Getenv(envLevel)
	if lvlStr == "" {
		return NewTopCtx()
	}
	lvl, err := strconv.Atoi(lvlStr)
	if err != nil || lvl < 1 {
		return nil, fmt.Errorf("redo: invalid %s=%q", envLevel, lvlStr)
	}
	topWD := os.Getenv(envTopWD)
	if topWD == "" {
		return nil, fmt.Errorf("redo: missing %s", envTopWD)
	}
	topPID, err := strconv.Atoi(os.Getenv(envTopPID))
	if err != nil {
		return nil, fmt.Errorf("redo: invalid %s", envTopPID)
	}
	depFD := -1
	if s := os.Getenv(envDepFD); s != "" {
		depFD, err = strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("redo: invalid %s=%q", envDepFD, s)
		}
	}
	jmrfd, jmwfd := -1, -1
	if s := os.Getenv(envJMRFD); s != "" {
		jmrfd, _ = strconv.Atoi(s)
	}
	if s := os.Getenv(envJMWFD); s != "" {
		jmwfd, _ = strconv.Atoi(s)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("redo: getwd: %w", err)
	}
	dmode, fmode := modesFromUmask()
	return &Ctx{
		Pid:    os.Getpid(),
		TopPID: topPID,
		Lvl:    lvl,
		PDepFD: depFD,
		TopWD:  topWD,
		WD:     wd,
		DMode:  dmode,
		FMode:  fmode,
		Fsync:  fsyncEnabled(),
		JMRFD:  jmrfd,
		JMWFD:  jmwfd,
	}, nil
}

// ChildEnviron returns the environment a child process (running the .do
// script or a recursive redo invocation) should inherit, exporting the
// fields of the contract that apply at lvl+1. depFD is the fd number the
// child itself will see for its dependency log (not this process's own fd
// number: when passed via cmd.ExtraFiles it lands at 3, 4, ... regardless
// of its number here), or -1 if the child gets none. The job-manager fds,
// if this Ctx has any, are carried over unchanged: callers that also
// relay them via ExtraFiles must fix them up afterward with
// OverrideJMFDs, since ExtraFiles renumbers those too.
func (c *Ctx) ChildEnviron(depFD int) []string {
	env := append([]string{}, os.Environ()...)
	env = setEnv(env, envLevel, strconv.Itoa(c.Lvl+1))
	env = setEnv(env, envTopWD, c.TopWD)
	env = setEnv(env, envTopPID, strconv.Itoa(c.TopPID))
	if depFD >= 0 {
		env = setEnv(env, envDepFD, strconv.Itoa(depFD))
	}
	if c.JMRFD >= 0 {
		env = setEnv(env, envJMRFD, strconv.Itoa(c.JMRFD))
	}
	if c.JMWFD >= 0 {
		env = setEnv(env, envJMWFD, strconv.Itoa(c.JMWFD))
	}
	return env
}

// OverrideJMFDs rewrites the job-manager fd variables in env to the fd
// numbers the child process will actually see, for callers that relay the
// job-manager pipes via cmd.ExtraFiles (which renumbers them starting at
// 3, independent of the parent's own fd numbers).
func OverrideJMFDs(env []string, jmrfd, jmwfd int) []string {
	env = setEnv(env, envJMRFD, strconv.Itoa(jmrfd))
	env = setEnv(env, envJMWFD, strconv.Itoa(jmwfd))
	return env
}

func setEnv(env []string, key, val string) []string {
	prefix := key + "="
	for i, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			env[i] = prefix + val
			return env
		}
	}
	return append(env, prefix+val)
}

func fsyncEnabled() bool {
	switch os.Getenv(envFsync) {
	case "0":
		return false
	case "1":
		return true
	default:
		// Default to syncing: redo favors durability over raw speed, matching
		// the reference implementation's default.
		return true
	}
}

// modesFromUmask derives the directory/file creation modes from the
// process's umask, per spec §4.10: dir mode is 0777&^umask, file mode
// additionally masks 0111.
func modesFromUmask() (os.FileMode, os.FileMode) {
	mask := getUmask()
	dmode := os.FileMode(0o777) &^ mask
	fmode := (os.FileMode(0o777) &^ mask) &^ 0o111
	return dmode, fmode
}
