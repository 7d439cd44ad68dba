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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormPath(t *testing.T) {
	data := []struct {
		path  string
		relTo string
		want  string
	}{
		{"/a/b/c", "", "/a/b/c"},
		{"/a//b/./c", "", "/a/b/c"},
		{"/a/b/../c", "", "/a/c"},
		{"/../a", "", "/a"},
		{"b/c", "/a", "/a/b/c"},
		{"./b", "/a", "/a/b"},
		{"../b", "/a/x", "/a/b"},
		{"/a/b/", "", "/a/b"},
	}
	for _, d := range data {
		got, err := normPath(d.path, d.relTo)
		if err != nil {
			t.Errorf("normPath(%q, %q) error: %v", d.path, d.relTo, err)
			continue
		}
		if diff := cmp.Diff(d.want, got); diff != "" {
			t.Errorf("normPath(%q, %q) mismatch (-want +got):\n%s", d.path, d.relTo, diff)
		}
	}
}

func TestNormPathIdempotent(t *testing.T) {
	// P2: normpath is idempotent.
	paths := []string{"/a/b/c", "/a//b/./c", "/a/b/../c/", "/"}
	for _, p := range paths {
		once, err := normPath(p, "")
		if err != nil {
			t.Fatalf("normPath(%q) error: %v", p, err)
		}
		twice, err := normPath(once, "")
		if err != nil {
			t.Fatalf("normPath(%q) error: %v", once, err)
		}
		if once != twice {
			t.Errorf("normPath not idempotent: normPath(%q)=%q, normPath(%q)=%q", p, once, once, twice)
		}
	}
}

func TestRelPath(t *testing.T) {
	data := []struct {
		path  string
		relTo string
		want  string
	}{
		{"/a/x", "/a/b/c", "../../x"},
		{"/a/b/c/file", "/a/b/c", "file"},
		{"/a/b", "/a/b", "."},
		{"/x/y", "/a/b", "../../x/y"},
	}
	for _, d := range data {
		got, err := relPath(d.path, d.relTo)
		if err != nil {
			t.Errorf("relPath(%q, %q) error: %v", d.path, d.relTo, err)
			continue
		}
		if diff := cmp.Diff(d.want, got); diff != "" {
			t.Errorf("relPath(%q, %q) mismatch (-want +got):\n%s", d.path, d.relTo, diff)
		}
	}
}

func TestRelPathNormPathRoundTrip(t *testing.T) {
	// P1: relpath(normpath(path, relto), relto) resolves to path, for paths
	// under relto and for one that climbs out of it with "..".
	data := []struct{ path, relTo string }{
		{"b/c", "/a"},
		{"../b", "/a/x"},
		{"c/d/e", "/a/b"},
	}
	for _, d := range data {
		norm, err := normPath(d.path, d.relTo)
		if err != nil {
			t.Fatalf("normPath(%q, %q) error: %v", d.path, d.relTo, err)
		}
		rel, err := relPath(norm, d.relTo)
		if err != nil {
			t.Fatalf("relPath(%q, %q) error: %v", norm, d.relTo, err)
		}
		back, err := normPath(rel, d.relTo)
		if err != nil {
			t.Fatalf("normPath(%q, %q) error: %v", rel, d.relTo, err)
		}
		if back != norm {
			t.Errorf("round trip failed: path=%q relTo=%q norm=%q rel=%q back=%q", d.path, d.relTo, norm, rel, back)
		}
	}
}

func TestPthPCmp(t *testing.T) {
	data := []struct {
		a, b string
		want int
	}{
		{"/a/b/c", "/a/b/d", len("/a/b/")},
		{"/foo", "/foo/bar", len("/foo")},
		{"/foo/bar", "/foo", len("/foo")},
		{"/a/b", "/a/b", len("/a/b")},
		{"/x", "/y", 1},
	}
	for _, d := range data {
		got := pthPCmp(d.a, d.b)
		if got != d.want {
			t.Errorf("pthPCmp(%q, %q) = %d, want %d", d.a, d.b, got, d.want)
		}
	}
}

func TestMkPath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a/b/c")
	if err := mkPath(target, 0o755); err != nil {
		t.Fatalf("mkPath: %v", err)
	}
	fi, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat after mkPath: %v", err)
	}
	if !fi.IsDir() {
		t.Errorf("%s is not a directory", target)
	}
	// Tolerates being called again (EEXIST).
	if err := mkPath(target, 0o755); err != nil {
		t.Errorf("mkPath on existing dir: %v", err)
	}
}

func TestMkPathNotDir(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mkPath(filepath.Join(file, "x"), 0o755); err == nil {
		t.Error("mkPath through a file: expected error, got nil")
	}
}
