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
	"time"
)

// RedoFn tags which of the four front-ends is executing (spec §9's
// "dynamic dispatch" design note: a tagged variant rather than resolving
// argv[0] to a function pointer at every call site).
type RedoFn int

const (
	Redo RedoFn = iota
	RedoIfChange
	RedoIfCreate
	RedoInfoFor
	RedoTList
)

func (k RedoFn) String() string {
	switch k {
	case Redo:
		return "redo"
	case RedoIfChange:
		return "redo-ifchange"
	case RedoIfCreate:
		return "redo-ifcreate"
	case RedoInfoFor:
		return "redo-infofor"
	case RedoTList:
		return "redo-list"
	default:
		return "?"
	}
}

// Execute dispatches a single target to the front-end named by kind, the
// single entry point named in spec §9.
func Execute(ctx *Ctx, kind RedoFn, target string) error {
	trg, err := normPath(target, ctx.WD)
	if err != nil {
		return err
	}
	switch kind {
	case Redo:
		return forceBuild(ctx, trg)
	case RedoIfChange:
		return ifChange(ctx, trg)
	case RedoIfCreate:
		return ifCreate(ctx, trg)
	case RedoInfoFor:
		return infoFor(trg)
	case RedoTList:
		return ListRedoDir(trg)
	default:
		return fmt.Errorf("redo: unknown front-end %v", kind)
	}
}

// forceBuild implements redo(trg, lvl, pdepfd) (spec §4.8): unconditionally
// rebuild trg, regardless of whether it is already fresh.
func forceBuild(ctx *Ctx, trg string) error {
	redoDir := dirName(trg) + "/.redo"
	if err := mkPath(redoDir, ctx.DMode); err != nil {
		return &BuildError{Target: trg, Err: err}
	}

	depLog, err := createTemp(redoDir, "dep.")
	if err != nil {
		return &BuildError{Target: trg, Err: err}
	}
	depLogPath := depLog.Name()
	defer func() {
		depLog.Close()
		discard(depLogPath)
	}()

	s, err := resolve(trg, depLog)
	if err != nil {
		return &BuildError{Target: trg, Err: err}
	}

	lck, result, err := acquireExclusiveLock(lckPath(trg), ctx.TopPID, ctx.JMRFD >= 0)
	if err != nil {
		return &BuildError{Target: trg, Err: err}
	}
	switch result {
	case lckCycle:
		return &LockError{Target: trg, Cycle: true}
	case lckErr:
		return &LockError{Target: trg, Err: err}
	case lckRel:
		// Another redo just finished building it; retry via the freshness
		// path rather than forcing another rebuild.
		return ifChange(ctx, trg)
	}
	defer lck.release()

	start := time.Now()
	res, err := runScript(ctx, s, depLog)
	ObserveBuild(res, time.Since(start))
	printStatus(trg, res, err)
	if err != nil {
		return &BuildError{Target: trg, Err: err}
	}
	if res == doInt {
		return fmt.Errorf("redo: %s: interrupted", trg)
	}
	if res == doErr {
		return &BuildError{Target: trg, Err: fmt.Errorf("build step failed")}
	}

	if _, exists, err := statPath(trg); err == nil && exists {
		if err := consolidate(trg, depLogPath); err != nil {
			return &BuildError{Target: trg, Err: err}
		}
	}
	return recordSelf(ctx, trg)
}

// consolidate rewrites a finished build's dep-log temp file into a
// build-info file and publishes it atomically (spec §4.2, §4.3).
func consolidate(trg, depLogPath string) error {
	dlf, err := os.Open(depLogPath)
	if err != nil {
		return err
	}
	recs, err := readDepLog(dlf)
	dlf.Close()
	if err != nil {
		return err
	}

	dir := dirName(trg)
	final := make([]DepRecord, 0, len(recs))
	for _, r := range recs {
		if r.Tag == tagNotExists {
			if _, exists, err := statPath(r.Path); err != nil {
				return err
			} else if exists {
				return fmt.Errorf("redo: %s: declared non-existence of %s but it now exists", trg, r.Path)
			}
			rel, err := relPath(r.Path, dir)
			if err != nil {
				return err
			}
			final = append(final, DepRecord{Tag: tagNotExists, Path: rel, Stat: Stat{Missing: true}})
			continue
		}
		st, exists, err := statPath(r.Path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("redo: %s: dependency %s vanished during build", trg, r.Path)
		}
		rel, err := relPath(r.Path, dir)
		if err != nil {
			return err
		}
		final = append(final, DepRecord{Tag: tagExists, Path: rel, Stat: st})
	}

	self, exists, err := statPath(trg)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("redo: %s: vanished before build-info consolidation", trg)
	}

	redoDir := dir + "/.redo"
	tmp, err := createTemp(redoDir, "bi.")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := writeBuildInfo(tmp, self, final); err != nil {
		tmp.Close()
		discard(tmpPath)
		return err
	}
	return publish(tmp, tmpPath, biPath(trg), true)
}

// infoFor implements redo-infofor (spec §4.8): print a target's build-info
// in human-readable form without mutating anything.
func infoFor(trg string) error {
	f, err := os.Open(biPath(trg))
	if err != nil {
		return fmt.Errorf("redo: %s: %w", trg, err)
	}
	defer f.Close()
	self, deps, err := readBuildInfo(f)
	if err != nil {
		return err
	}
	fmt.Printf(": ino=%d sec=%d nsec=%d %s\n", self.Ino, self.Sec, self.Nsec, trg)
	for _, d := range deps {
		if d.Tag == tagNotExists {
			fmt.Printf("- %s\n", d.Path)
			continue
		}
		fmt.Printf("= ino=%d sec=%d nsec=%d %s\n", d.Stat.Ino, d.Stat.Sec, d.Stat.Nsec, d.Path)
	}
	return nil
}

// ListRedoDir implements "redo -t list target" (SPEC_FULL.md §6): a small
// debugging front-end, borrowed from the original redo.c variants'
// dependency-listing tools, that prints the contents of a target's .redo/
// directory followed by its dependency chain (the same chain infoFor
// prints).
func ListRedoDir(trg string) error {
	redoDir := dirName(trg) + "/.redo"
	entries, err := os.ReadDir(redoDir)
	if err != nil {
		return fmt.Errorf("redo: %s: %w", redoDir, err)
	}
	fmt.Printf("%s:\n", redoDir)
	for _, e := range entries {
		fmt.Printf("  %s\n", e.Name())
	}
	return infoFor(trg)
}
