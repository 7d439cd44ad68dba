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
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// doResult is the outcome of runScript (spec §4.6).
type doResult int

const (
	doErr doResult = iota
	doInt
	trgSame
	trgNew
)

func (r doResult) String() string {
	switch r {
	case doErr:
		return "DOFERR"
	case doInt:
		return "DOFINT"
	case trgSame:
		return "TRGSAME"
	case trgNew:
		return "TRGNEW"
	default:
		return "?"
	}
}

// script is a resolved .do descriptor (spec §3's "script descriptor").
type script struct {
	pth  string // absolute path of the .do script
	arg1 string // absolute path of the target
	arg2 string // arg1 minus the matched suffix
}

// runScript executes a resolved .do script under ctx, recording dependencies
// the script declares onto depLog (nil means none), and publishes the
// artifact onto s.arg1 on success. It implements the algorithm of spec §4.6.
func runScript(ctx *Ctx, s *script, depLog *os.File) (doResult, error) {
	dir := dirName(s.arg1)
	fd1f, err := createTemp(dir, baseName(s.arg1)+".redo.")
	if err != nil {
		return doErr, err
	}
	fd1fPath := fd1f.Name()
	if err := fd1f.Chmod(ctx.FMode); err != nil {
		fd1f.Close()
		discard(fd1fPath)
		return doErr, fmt.Errorf("redo: chmod %s: %w", fd1fPath, err)
	}

	arg3 := fmt.Sprintf("%s.%d", fd1fPath, ctx.Pid)
	if _, err := os.Lstat(arg3); err == nil {
		fd1f.Close()
		discard(fd1fPath)
		return doErr, fmt.Errorf("redo: scratch path %s already exists", arg3)
	}

	preStat, preOK, err := statPath(s.arg1)
	if err != nil {
		fd1f.Close()
		discard(fd1fPath)
		return doErr, err
	}

	cleanup := func() {
		fd1f.Close()
		discard(fd1fPath)
		discard(arg3)
	}

	interrupted, exitFailed, err := execScript(ctx, s, fd1f, arg3, depLog)
	if err != nil {
		cleanup()
		return doErr, err
	}
	if interrupted {
		cleanup()
		return doInt, nil
	}
	if exitFailed {
		cleanup()
		return doErr, nil
	}

	postStat, postOK, err := statPath(s.arg1)
	if err != nil {
		cleanup()
		return doErr, err
	}
	if preOK != postOK || (preOK && postOK && !preStat.Equal(postStat)) {
		cleanup()
		return doErr, fmt.Errorf("redo: %s: script modified $1", s.arg1)
	}

	_, arg3Err := os.Stat(arg3)
	arg3Exists := arg3Err == nil
	fd1fInfo, err := os.Stat(fd1fPath)
	if err != nil {
		cleanup()
		return doErr, err
	}
	fd1fNonEmpty := fd1fInfo.Size() > 0

	switch {
	case arg3Exists && fd1fNonEmpty:
		cleanup()
		return doErr, fmt.Errorf("redo: %s: created $3 AND wrote to stdout", s.arg1)
	case arg3Exists:
		fd1f.Close()
		discard(fd1fPath)
		f, err := os.OpenFile(arg3, os.O_RDWR, ctx.FMode)
		if err != nil {
			discard(arg3)
			return doErr, err
		}
		if err := publish(f, arg3, s.arg1, ctx.Fsync); err != nil {
			return doErr, err
		}
		return trgNew, nil
	case fd1fNonEmpty:
		discard(arg3)
		if err := publish(fd1f, fd1fPath, s.arg1, ctx.Fsync); err != nil {
			discard(fd1fPath)
			return doErr, err
		}
		return trgNew, nil
	default:
		cleanup()
		return trgSame, nil
	}
}

// execScript starts the .do script (directly if executable, otherwise under
// /bin/sh -e) and waits for it, cooperating with SIGINT the way the
// reference implementation's retonsig flag does: the signal is caught on a
// channel, the script process is killed through its context, and
// interrupted is reported so the caller unwinds to cleanup instead of
// exiting immediately.
func execScript(ctx *Ctx, s *script, fd1f *os.File, arg3 string, depLog *os.File) (interrupted, exitFailed bool, err error) {
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := buildDoCmd(cctx, s, arg3)
	cmd.Stdout = fd1f
	cmd.Stderr = os.Stderr
	cmd.Dir = dirName(s.pth)

	// cmd.ExtraFiles always lands at fd 3, 4, ... in the child regardless of
	// this process's own fd numbers, so the env contract must name those
	// positions, not depLog's or ctx's own fd numbers as seen here. Each fd
	// is passed through using the single *os.File this process already owns
	// for it (depLog, or ctx's retained job-manager wrappers) rather than a
	// fresh os.NewFile, so no extra finalizer-bearing wrapper is created
	// around an fd this process still needs afterward.
	nextFD := 3
	childDepFD := -1
	if depLog != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, depLog)
		childDepFD = nextFD
		nextFD++
	}
	cmd.Env = ctx.ChildEnviron(childDepFD)
	if ctx.JMRFD >= 0 && ctx.JMWFD >= 0 {
		jmw, jmr := ctx.JobManagerFiles()
		cmd.ExtraFiles = append(cmd.ExtraFiles, jmw, jmr)
		cmd.Env = OverrideJMFDs(cmd.Env, nextFD+1, nextFD)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return false, false, fmt.Errorf("redo: exec %s: %w", s.pth, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-sigCh:
		cancel()
		<-done
		return true, false, nil
	case werr := <-done:
		if werr != nil {
			if _, ok := werr.(*exec.ExitError); ok {
				return false, true, nil
			}
			return false, false, fmt.Errorf("redo: wait %s: %w", s.pth, werr)
		}
		return false, false, nil
	}
}

// buildDoCmd constructs the command line for a .do script, choosing between
// direct execution (if the script is executable) and /bin/sh -e, per
// subprocess_posix.go's createCmd pattern of isolating the shell choice in
// one place.
func buildDoCmd(ctx context.Context, s *script, arg3 string) *exec.Cmd {
	var cmd *exec.Cmd
	if isExecutable(s.pth) {
		cmd = exec.CommandContext(ctx, s.pth, s.arg1, s.arg2, arg3)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-e", s.pth, s.arg1, s.arg2, arg3)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&0o111 != 0
}


func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func baseName(s string) string {
	i := lastSlash(s)
	return s[i+1:]
}

func dirName(s string) string {
	i := lastSlash(s)
	if i <= 0 {
		return "/"
	}
	return s[:i]
}
