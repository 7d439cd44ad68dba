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

import "fmt"

// BuildError wraps a failure building a specific target, letting callers
// distinguish "this target failed" from a plumbing error.
type BuildError struct {
	Target string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("redo: %s: %v", e.Target, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// LockError reports a failure in the per-target lock protocol: either a
// dependency cycle or an I/O failure acquiring the lock file.
type LockError struct {
	Target string
	Cycle  bool
	Err    error
}

func (e *LockError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("redo: %s: dependency cycle detected", e.Target)
	}
	return fmt.Sprintf("redo: %s: lock failure: %v", e.Target, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
