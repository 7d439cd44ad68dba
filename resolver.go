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
)

// ResolveError reports that no .do script could be found for a target.
type ResolveError struct {
	Target string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("redo: no .do file for %s", e.Target)
}

// resolve searches for the .do script governing trg, walking upward per
// spec §4.5, and reports every probe (hit or miss) as a dep-log record on
// depLog (nil means don't record) so a later-created default rule
// invalidates this build. depLog is the caller's own already-open file, not
// rewrapped here, so repeated probes never risk a stray finalizer closing it
// out from under the caller (spec invariant I3).
func resolve(trg string, depLog *os.File) (*script, error) {
	dir := dirName(trg)
	base := baseName(trg)

	// Step 1: "<trg>.do" in trg's own directory.
	direct := dir + "/" + base + ".do"
	found, err := probe(direct, depLog)
	if err != nil {
		return nil, err
	}
	if found {
		return &script{pth: direct, arg1: trg, arg2: trg}, nil
	}

	suffixes := suffixChain(base)
	curDir := dir
	for {
		for _, suf := range suffixes {
			cand := curDir + "/default" + suf + ".do"
			found, err := probe(cand, depLog)
			if err != nil {
				return nil, err
			}
			if found {
				arg2 := trg[:len(trg)-len(suf)]
				return &script{pth: cand, arg1: trg, arg2: arg2}, nil
			}
		}
		def := curDir + "/default.do"
		found, err := probe(def, depLog)
		if err != nil {
			return nil, err
		}
		if found {
			return &script{pth: def, arg1: trg, arg2: trg}, nil
		}
		if curDir == "/" {
			break
		}
		curDir = dirName(curDir)
	}
	return nil, &ResolveError{Target: trg}
}

// probe stats path, reports the outcome as a dep-log record, and returns
// whether a usable .do script was found there. Per spec §4.5, every probe
// must be recorded; a failed append is reported back to resolve rather than
// swallowed, since a lost record is indistinguishable from a rule that will
// silently fail to invalidate this build later.
func probe(path string, depLog *os.File) (bool, error) {
	fi, err := os.Stat(path)
	found := err == nil && !fi.IsDir()
	if depLog != nil {
		var recErr error
		if found {
			recErr = appendDepRecord(depLog, tagExists, path)
		} else {
			recErr = appendDepRecord(depLog, tagNotExists, path)
		}
		if recErr != nil {
			return false, fmt.Errorf("redo: resolve: recording probe of %s: %w", path, recErr)
		}
	}
	explain("resolve: probe %s found=%v", path, found)
	return found, nil
}

// suffixChain generates the left-to-right ".XX", ".XX.YY", … tail suffixes
// of a basename, e.g. "foo.tar.gz" -> [".tar.gz", ".gz"], outermost first
// matches the reference implementation's "scanning for '.'" order: the
// resolver tries the longest compound suffix before shorter ones.
func suffixChain(base string) []string {
	var suffixes []string
	rest := base
	for {
		i := strings.IndexByte(rest, '.')
		if i == -1 {
			break
		}
		suffixes = append(suffixes, base[len(base)-len(rest)+i:])
		rest = rest[i+1:]
	}
	return suffixes
}
