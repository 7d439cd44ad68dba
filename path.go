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
	"strings"
	"syscall"
)

// NameMax is the longest a single path component may be; normPath refuses
// anything over this, matching the reference implementation's NAME_MAX
// check.
const NameMax = 255

// PathMax bounds a full normalized path, matching PATH_MAX on common POSIX
// systems.
const PathMax = 4096

// normPath normalizes path into an absolute, slash-clean path with no "."
// or ".." components. If path is not already absolute, it is resolved
// against relTo, which must itself already be a normalized absolute path.
func normPath(path, relTo string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("redo: empty path")
	}
	full := path
	if !strings.HasPrefix(path, "/") {
		if relTo == "" || !strings.HasPrefix(relTo, "/") {
			return "", fmt.Errorf("redo: normPath: relTo %q is not an absolute normalized path", relTo)
		}
		full = relTo + "/" + path
	}

	parts := strings.Split(full, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			// Collapses "//" and "/./".
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			// ".." at the root is a no-op, same as the reference implementation.
		default:
			if len(p) > NameMax {
				return "", fmt.Errorf("redo: path component %q exceeds NAME_MAX", p)
			}
			out = append(out, p)
		}
	}
	result := "/" + strings.Join(out, "/")
	if len(result) >= PathMax {
		return "", fmt.Errorf("redo: normalized path exceeds PATH_MAX")
	}
	return result, nil
}

// pthPCmp walks a and b in lockstep and returns the length of their shared
// path-component prefix (the offset of the first byte after the last '/'
// they share), comparing whole components rather than bytes.
func pthPCmp(a, b string) int {
	lastSlash := 0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		if a[i] == '/' {
			lastSlash = i + 1
		}
		i++
	}
	// If we ran off the end of one string exactly on a component boundary
	// (e.g. a="/foo", b="/foo/bar"), that counts as a shared prefix through
	// that component, provided the longer one continues with '/' or ends.
	if i == n {
		if len(a) == i && (len(b) == i || b[i] == '/') {
			return i
		}
		if len(b) == i && (len(a) == i || a[i] == '/') {
			return i
		}
	}
	return lastSlash
}

// relPath computes a relative path from relTo (a directory) to path, both
// of which must already be normalized absolute paths.
func relPath(path, relTo string) (string, error) {
	if !strings.HasPrefix(path, "/") || !strings.HasPrefix(relTo, "/") {
		return "", fmt.Errorf("redo: relPath requires normalized absolute inputs")
	}
	shared := pthPCmp(path, relTo)

	var ups int
	if shared < len(relTo) {
		rest := relTo[shared:]
		ups = strings.Count(rest, "/") + 1
	}

	var b strings.Builder
	for i := 0; i < ups; i++ {
		b.WriteString("../")
	}
	tail := path[shared:]
	tail = strings.TrimPrefix(tail, "/")
	b.WriteString(tail)
	out := b.String()
	if out == "" {
		out = "."
	}
	if len(out) >= PathMax {
		return "", fmt.Errorf("redo: relative path exceeds PATH_MAX")
	}
	return out, nil
}

// mkPath creates path and every missing directory above it (like "mkdir -p
// path"), tolerating EEXIST and
// failing with a wrapped ENOTDIR if an intermediate component exists and is
// not a directory.
func mkPath(path string, mode os.FileMode) error {
	if path == "" || path == "/" {
		return nil
	}
	parent := path[:strings.LastIndexByte(path, '/')]
	if parent != "" {
		if err := mkPath(parent, mode); err != nil {
			return err
		}
	}
	if fi, err := os.Stat(path); err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("redo: mkPath: %s: %w", path, syscall.ENOTDIR)
		}
		return nil
	}
	if err := os.Mkdir(path, mode); err != nil && !os.IsExist(err) {
		return fmt.Errorf("redo: mkPath: %s: %w", path, err)
	}
	return nil
}
