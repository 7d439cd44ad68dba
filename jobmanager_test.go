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
	"testing"
)

// TestJobManagerAdmitsUpToCap exercises P4: under the manager's loop, at
// most `cap` JOBNEW requests are granted before further requests must wait
// for a JOBDONE.
func TestJobManagerAdmitsUpToCap(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer reqW.Close()
	defer repR.Close()

	done := make(chan error, 1)
	go func() {
		done <- runJobManagerLoop(reqR, repW, 2)
	}()

	// First two JOBNEW requests are granted immediately.
	for i := 0; i < 2; i++ {
		if err := writeInt32(reqW, jobNew); err != nil {
			t.Fatal(err)
		}
		grant, err := readInt32(repR)
		if err != nil {
			t.Fatalf("reading grant %d: %v", i, err)
		}
		if grant != 1 {
			t.Fatalf("grant %d = %d, want 1", i, grant)
		}
	}

	// A third request is queued; it must not be granted until a JOBDONE.
	if err := writeInt32(reqW, jobNew); err != nil {
		t.Fatal(err)
	}
	if err := writeInt32(reqW, jobDone); err != nil {
		t.Fatal(err)
	}
	grant, err := readInt32(repR)
	if err != nil {
		t.Fatalf("reading grant after JOBDONE: %v", err)
	}
	if grant != 1 {
		t.Fatalf("grant after JOBDONE = %d, want 1", grant)
	}

	reqW.Close()
	if err := <-done; err != nil {
		t.Errorf("job manager loop: %v", err)
	}
}

func TestJobManagerAccountingError(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer reqW.Close()
	defer repR.Close()

	done := make(chan error, 1)
	go func() {
		done <- runJobManagerLoop(reqR, repW, 1)
	}()

	if err := writeInt32(reqW, jobDone); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err == nil {
		t.Error("JOBDONE with no running jobs should return an error")
	}
}
