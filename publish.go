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
	"path/filepath"
)

// createTemp opens a fresh, exclusively-owned temp file inside dir for
// later atomic publish, following the reference implementation's
// mkstemp-in-target-directory convention so the final rename never crosses
// a filesystem boundary.
func createTemp(dir, pattern string) (*os.File, error) {
	if err := mkPath(dir, 0o777); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("redo: create temp in %s: %w", dir, err)
	}
	return f, nil
}

// publish atomically installs srcpath as dstpath (spec §4.3): fsync the
// source fd if fsyncEnabled, rename it over dstpath, then fsync the
// destination directory so the rename itself survives a crash. Used by the
// .do executor to install a built artifact and by the build-info writer to
// install a finished dep-log replay.
func publish(src *os.File, srcpath, dstpath string, fsyncEnabled bool) error {
	if fsyncEnabled {
		if err := src.Sync(); err != nil {
			return fmt.Errorf("redo: fsync %s: %w", srcpath, err)
		}
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("redo: close %s: %w", srcpath, err)
	}
	if err := os.Rename(srcpath, dstpath); err != nil {
		return fmt.Errorf("redo: rename %s -> %s: %w", srcpath, dstpath, err)
	}
	if fsyncEnabled {
		if err := syncDir(filepath.Dir(dstpath)); err != nil {
			return fmt.Errorf("redo: fsync dir of %s: %w", dstpath, err)
		}
	}
	return nil
}

// syncDir fsyncs a directory so a preceding rename within it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// discard removes a temp file abandoned after a failed or skipped build,
// tolerating it already being gone.
func discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("redo: remove temp %s: %w", path, err)
	}
	return nil
}
