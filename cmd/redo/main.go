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

// Command redo and its hard-linked/symlinked aliases redo-ifchange,
// redo-ifcreate and redo-infofor implement the redo build tool family.
// Which front-end runs is decided by argv[0] (spec §6).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	flag "github.com/spf13/pflag"

	"github.com/nrdo/redo"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == redo.JMInternalFlag {
		cap := 0
		if len(os.Args) > 2 {
			cap, _ = strconv.Atoi(os.Args[2])
		}
		if err := redo.RunJobManager(cap); err != nil {
			fmt.Fprintf(os.Stderr, "redo: job manager: %v\n", err)
			os.Exit(1)
		}
		return
	}

	jobs := flag.IntP("jobs", "j", 1, "maximum number of concurrent .do scripts (0 = unbounded)")
	showVersion := flag.BoolP("version", "V", false, "print the version and exit")
	debugType := flag.StringP("type", "t", "", `debugging aid; "list" prints a target's .redo/ contents and dependency chain`)
	flag.Parse()

	if *showVersion {
		fmt.Printf("redo version %s\n", redo.Version)
		return
	}

	kind := frontEnd(os.Args[0])
	if *debugType != "" {
		if *debugType != "list" {
			fmt.Fprintf(os.Stderr, "redo: -t %s: unknown debugging aid\n", *debugType)
			os.Exit(1)
		}
		kind = redo.RedoTList
	}
	targets := flag.Args()
	if len(targets) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s target...\n", filepath.Base(os.Args[0]))
		os.Exit(1)
	}

	ctx, err := redo.CtxFromEnviron()
	if err != nil {
		fmt.Fprintf(os.Stderr, "redo: %v\n", err)
		os.Exit(1)
	}

	if addr := os.Getenv("REDO_METRICS_ADDR"); addr != "" && ctx.Lvl == 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", redo.MetricsHandler())
		go http.ListenAndServe(addr, mux)
	}

	if ctx.Lvl == 0 && ctx.JMWFD < 0 && *jobs != 1 {
		reqW, repR, err := redo.StartJobManager(*jobs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redo: %v\n", err)
			os.Exit(1)
		}
		ctx.SetJobManagerFiles(reqW, repR)
	}

	if err := run(ctx, kind, targets); err != nil {
		fmt.Fprintf(os.Stderr, "redo: %v\n", err)
		os.Exit(1)
	}
}

// frontEnd maps a program name to the front-end it invokes, defaulting to
// unconditional rebuild for anything unrecognized (matching plain "redo").
func frontEnd(argv0 string) redo.RedoFn {
	switch filepath.Base(argv0) {
	case "redo-ifchange":
		return redo.RedoIfChange
	case "redo-ifcreate":
		return redo.RedoIfCreate
	case "redo-infofor":
		return redo.RedoInfoFor
	case "redo-list":
		return redo.RedoTList
	default:
		return redo.Redo
	}
}

// run dispatches every target, serially if no job manager is active or
// there is only one target, otherwise fanning each target out to a
// self-re-exec'd worker process bounded by the job manager (spec §4.9's
// "bootstrapping": a builder that gains a grant forks a worker and
// continues dispatching the rest).
func run(ctx *redo.Ctx, kind redo.RedoFn, targets []string) error {
	if ctx.JMWFD < 0 || len(targets) <= 1 {
		for _, t := range targets {
			if err := redo.Execute(ctx, kind, t); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, t := range targets {
		if err := redo.JMAdmit(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer redo.JMRelease(ctx)
			errCh <- spawnWorker(ctx, kind, target)
		}(t)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// spawnWorker self-re-execs a single-target build, inheriting ctx's
// environment contract (job manager fds, level, topwd/toppid).
func spawnWorker(ctx *redo.Ctx, kind redo.RedoFn, target string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(self, target)
	cmd.Args = []string{kind.String(), target}
	cmd.Env = ctx.ChildEnviron(-1)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if ctx.JMWFD >= 0 {
		// ExtraFiles always lands at fd 3, 4, ... in the child regardless of
		// this process's own fd numbers, so the inherited env must name those,
		// not ctx.JMWFD/ctx.JMRFD. Reuse ctx's own retained wrappers instead of
		// creating fresh ones: os.NewFile registers a finalizer that closes
		// the fd when its wrapper is collected, and a second ephemeral
		// wrapper around the same fd risks that happening while ctx's own
		// copy is still live.
		jmw, jmr := ctx.JobManagerFiles()
		cmd.ExtraFiles = []*os.File{jmw, jmr}
		cmd.Env = redo.OverrideJMFDs(cmd.Env, 4, 3)
	}
	return cmd.Run()
}
