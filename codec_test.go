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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDepLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "dep.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	want := []DepRecord{
		{Tag: tagExists, Path: "/a/b.do"},
		{Tag: tagNotExists, Path: "/a/missing.h"},
		{Tag: tagExists, Path: "/a/default.c.do"},
	}
	for _, r := range want {
		if err := appendDepRecord(f, r.Tag, r.Path); err != nil {
			t.Fatalf("appendDepRecord(%v): %v", r, err)
		}
	}

	got, err := readDepLog(f)
	if err != nil {
		t.Fatalf("readDepLog: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dep log round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDepLogCorruptTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('?')
	buf.WriteString("/a/b\x00")
	f, err := os.CreateTemp(t.TempDir(), "dep")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if _, err := readDepLog(f); err == nil {
		t.Error("readDepLog with corrupt tag: expected error, got nil")
	}
}

func TestBuildInfoRoundTrip(t *testing.T) {
	self := Stat{Ino: 42, Sec: 1000, Nsec: 500}
	deps := []DepRecord{
		{Tag: tagExists, Path: "default.c.do", Stat: Stat{Ino: 7, Sec: 999, Nsec: 1}},
		{Tag: tagNotExists, Path: "foo.c.do", Stat: Stat{Missing: true}},
	}

	var buf bytes.Buffer
	if err := writeBuildInfo(&buf, self, deps); err != nil {
		t.Fatalf("writeBuildInfo: %v", err)
	}

	gotSelf, gotDeps, err := readBuildInfo(&buf)
	if err != nil {
		t.Fatalf("readBuildInfo: %v", err)
	}
	if diff := cmp.Diff(self, gotSelf); diff != "" {
		t.Errorf("self record mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(deps, gotDeps); diff != "" {
		t.Errorf("dep records mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildInfoBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XXXX")
	buf.WriteByte(biVersion)
	if _, _, err := readBuildInfo(&buf); err == nil {
		t.Error("readBuildInfo with bad magic: expected error, got nil")
	}
}

func TestBuildInfoBadVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(biMagic)
	buf.WriteByte(biVersion + 1)
	if _, _, err := readBuildInfo(&buf); err == nil {
		t.Error("readBuildInfo with bad version: expected error, got nil")
	}
}

func TestStatEqual(t *testing.T) {
	a := Stat{Ino: 1, Sec: 2, Nsec: 3}
	b := Stat{Ino: 1, Sec: 2, Nsec: 3}
	c := Stat{Ino: 1, Sec: 2, Nsec: 4}
	if !a.Equal(b) {
		t.Error("identical stats should be equal")
	}
	if a.Equal(c) {
		t.Error("stats differing in nsec should not be equal")
	}
}
