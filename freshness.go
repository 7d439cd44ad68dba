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
)

// ExternalModificationError reports that a target's on-disk fingerprint no
// longer matches its build-info self-record: the user edited the artifact
// out of band, so redo refuses to silently rebuild over it.
type ExternalModificationError struct {
	Target string
}

func (e *ExternalModificationError) Error() string {
	return fmt.Sprintf("redo: aborting: %s was externally modified", e.Target)
}

// biPath returns the build-info path for a target: "<dir>/.redo/<base>.bi".
func biPath(trg string) string {
	return dirName(trg) + "/.redo/" + baseName(trg) + ".bi"
}

// lckPath returns the lock-file path for a target.
func lckPath(trg string) string {
	return dirName(trg) + "/.redo/" + baseName(trg) + ".lck"
}

// ifChange implements redo-ifchange (spec §4.7): it brings trg up to date
// only if stale, reporting trg to the parent's dep log (pdepfd) as an '='
// record once it is known fresh.
func ifChange(ctx *Ctx, trg string) error {
	stat, exists, err := statPath(trg)
	if err != nil {
		return err
	}
	if !exists {
		explain("ifchange: %s missing, rebuilding", trg)
		return forceBuild(ctx, trg)
	}

	bi := biPath(trg)
	biFile, err := os.Open(bi)
	if err != nil {
		if os.IsNotExist(err) {
			// Not managed by redo: treat the existing file as satisfactory and
			// report it upward unconditionally.
			explain("ifchange: %s has no build-info, treating as unmanaged", trg)
			return recordSelf(ctx, trg)
		}
		return fmt.Errorf("redo: open %s: %w", bi, err)
	}
	defer biFile.Close()

	if err := lockFile(biFile, false, true); err != nil {
		return fmt.Errorf("redo: lock %s: %w", bi, err)
	}
	self, deps, err := readBuildInfo(biFile)
	unlockFile(biFile)
	if err != nil {
		// Corrupt build-info: spec §7 says this triggers a rebuild rather
		// than a hard failure.
		explain("ifchange: %s build-info corrupt (%v), rebuilding", trg, err)
		return forceBuild(ctx, trg)
	}

	if !self.Equal(stat) {
		return &ExternalModificationError{Target: trg}
	}

	dir := dirName(trg)
	stale := false
	for _, d := range deps {
		depPath, err := normPath(d.Path, dir)
		if err != nil {
			return err
		}
		if d.Tag == tagExists {
			if err := ifChangeNested(ctx, depPath); err != nil {
				return err
			}
		}
		changed, err := depChanged(d, dir)
		if err != nil {
			return err
		}
		if changed {
			explain("ifchange: %s: dependency %s changed", trg, depPath)
			stale = true
		}
	}

	if stale {
		return forceBuild(ctx, trg)
	}
	return recordSelf(ctx, trg)
}

// ifChangeNested recurses into a dependency's own freshness check with
// dep-log reporting suppressed (pdepfd=-1 per spec §4.7 step 4).
func ifChangeNested(ctx *Ctx, dep string) error {
	nested := *ctx
	nested.PDepFD = -1
	nested.pDepF = nil
	return ifChange(&nested, dep)
}

// depChanged re-stats a dependency relative to dir and compares against its
// recorded fingerprint, per spec §4.7 step 4.
func depChanged(d DepRecord, dir string) (bool, error) {
	path, err := normPath(d.Path, dir)
	if err != nil {
		return false, err
	}
	st, exists, err := statPath(path)
	if err != nil {
		return false, err
	}
	if d.Tag == tagNotExists {
		return exists, nil
	}
	if !exists {
		return true, nil
	}
	return !st.Equal(d.Stat), nil
}

// recordSelf appends trg as an '=' dependency to the parent's dep log, if
// any, once it is known fresh or freshly built.
func recordSelf(ctx *Ctx, trg string) error {
	f := ctx.depLogFile()
	if f == nil {
		return nil
	}
	return appendDepRecord(f, tagExists, trg)
}

// ifCreate implements redo-ifcreate (spec §4.8): usable only from within a
// running .do script, it records that the parent's build depends on trg's
// non-existence.
func ifCreate(ctx *Ctx, trg string) error {
	f := ctx.depLogFile()
	if f == nil {
		return fmt.Errorf("redo: redo-ifcreate: not running inside a .do script")
	}
	return appendDepRecord(f, tagNotExists, trg)
}
