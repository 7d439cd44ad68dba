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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Dep-log and build-info record tags (spec §3).
const (
	tagSelf      byte = ':'
	tagExists    byte = '='
	tagNotExists byte = '-'
)

// biMagic and biVersion identify the build-info file format. Open
// Question (b) in spec.md is resolved here: rather than serializing
// native-sized ino_t/timespec (endianness- and platform-bound, per the
// reference implementation), build-info uses a fixed little-endian
// encoding with an explicit version byte, so a corrupt or foreign-platform
// file is detected deterministically rather than by accident.
const (
	biMagic   = "RDBI"
	biVersion = 1
)

// Stat is the (inode, mtime) fingerprint recorded for a dependency.
type Stat struct {
	Ino     uint64
	Sec     int64
	Nsec    int64
	Missing bool // true for a '-' record: depends on the file's non-existence.
}

// Equal reports whether two Stat fingerprints are the same, as used to
// decide whether a dependency has changed.
func (s Stat) Equal(o Stat) bool {
	return s.Ino == o.Ino && s.Sec == o.Sec && s.Nsec == o.Nsec
}

// DepRecord is one entry of a dependency log or build-info file: a tag and
// a path, plus the stat fingerprint for non-'-' records.
type DepRecord struct {
	Tag  byte
	Path string
	Stat Stat
}

// --- Dependency log -------------------------------------------------------
//
// The dep log is the per-build temp file a running .do script (and its
// descendants) append dependency declarations to via an inherited fd.
// Record format: 1 tag byte, then NUL-terminated path bytes. Writers take
// a whole-file advisory write lock around each append so concurrent
// children sharing the fd never interleave (invariant I3).

// appendDepRecord locks the whole file, appends {tag, path, NUL} as one
// atomic unit, and unlocks.
func appendDepRecord(f *os.File, tag byte, path string) error {
	if err := lockFile(f, true, true); err != nil {
		return fmt.Errorf("redo: dep log lock: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("redo: dep log seek: %w", err)
	}
	buf := make([]byte, 0, len(path)+2)
	buf = append(buf, tag)
	buf = append(buf, path...)
	buf = append(buf, 0)
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("redo: dep log write: %w", err)
	}
	return nil
}

// readDepLog reads every record of a just-finished dep-log temp file.
func readDepLog(f *os.File) ([]DepRecord, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var recs []DepRecord
	for {
		tag, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tag != tagExists && tag != tagNotExists {
			return nil, fmt.Errorf("redo: dep log: corrupt tag %q", tag)
		}
		path, err := r.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("redo: dep log: truncated record: %w", err)
		}
		path = path[:len(path)-1] // drop the NUL
		recs = append(recs, DepRecord{Tag: tag, Path: path})
	}
	return recs, nil
}

// --- Build-info file -------------------------------------------------------
//
// file := magic, version byte, self-record(tag=':'), dep-record*
// record := tag byte, [ino(8) sec(8) nsec(8)] (absent if tag='-'), path
//           length (uvarint), path bytes

// writeBuildInfo serializes self (the target's own fingerprint) and deps
// (paths already relativized to the target's directory) to w.
func writeBuildInfo(w io.Writer, self Stat, deps []DepRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(biMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(biVersion); err != nil {
		return err
	}
	if err := writeBIRecord(bw, tagSelf, "", self); err != nil {
		return err
	}
	for _, d := range deps {
		if err := writeBIRecord(bw, d.Tag, d.Path, d.Stat); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeBIRecord(w *bufio.Writer, tag byte, path string, st Stat) error {
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	if tag != tagNotExists {
		var buf [24]byte
		binary.LittleEndian.PutUint64(buf[0:8], st.Ino)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(st.Sec))
		binary.LittleEndian.PutUint64(buf[16:24], uint64(st.Nsec))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	var lbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lbuf[:], uint64(len(path)))
	if _, err := w.Write(lbuf[:n]); err != nil {
		return err
	}
	_, err := w.WriteString(path)
	return err
}

// readBuildInfo parses a build-info file, returning the self record's Stat
// and the dependency records that follow it. It fails if the magic/version
// don't match, a tag is invalid, or a path overruns PathMax.
func readBuildInfo(r io.Reader) (Stat, []DepRecord, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(biMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return Stat{}, nil, fmt.Errorf("redo: build-info: truncated header: %w", err)
	}
	if string(magic) != biMagic {
		return Stat{}, nil, fmt.Errorf("redo: build-info: bad magic")
	}
	ver, err := br.ReadByte()
	if err != nil {
		return Stat{}, nil, fmt.Errorf("redo: build-info: truncated version: %w", err)
	}
	if ver != biVersion {
		return Stat{}, nil, fmt.Errorf("redo: build-info: unsupported version %d", ver)
	}

	selfTag, self, _, err := readBIRecord(br)
	if err != nil {
		return Stat{}, nil, err
	}
	if selfTag != tagSelf {
		return Stat{}, nil, fmt.Errorf("redo: build-info: missing self record")
	}

	var deps []DepRecord
	for {
		tag, st, path, err := readBIRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return Stat{}, nil, err
		}
		if tag != tagExists && tag != tagNotExists {
			return Stat{}, nil, fmt.Errorf("redo: build-info: unexpected tag %q", tag)
		}
		deps = append(deps, DepRecord{Tag: tag, Path: path, Stat: st})
	}
	return self, deps, nil
}

func readBIRecord(r *bufio.Reader) (byte, Stat, string, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return 0, Stat{}, "", err
	}
	var st Stat
	if tag != tagNotExists {
		var buf [24]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, Stat{}, "", fmt.Errorf("redo: build-info: truncated stat fields: %w", err)
		}
		st.Ino = binary.LittleEndian.Uint64(buf[0:8])
		st.Sec = int64(binary.LittleEndian.Uint64(buf[8:16]))
		st.Nsec = int64(binary.LittleEndian.Uint64(buf[16:24]))
	} else {
		st.Missing = true
	}
	ln, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, Stat{}, "", fmt.Errorf("redo: build-info: truncated path length: %w", err)
	}
	if ln > PathMax {
		return 0, Stat{}, "", fmt.Errorf("redo: build-info: path too long")
	}
	path := make([]byte, ln)
	if _, err := io.ReadFull(r, path); err != nil {
		return 0, Stat{}, "", fmt.Errorf("redo: build-info: truncated path: %w", err)
	}
	return tag, st, string(path), nil
}
