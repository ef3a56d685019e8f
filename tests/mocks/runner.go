package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/masterbooter/masterbooter/internal/utils"
)

// FakeRunner records every command and answers through SideEffect, or with exit code 0.
type FakeRunner struct {
	mu         sync.Mutex
	cmds       [][]string
	SideEffect func(name string, args ...string) (utils.Result, error)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

func (r *FakeRunner) Run(ctx context.Context, name string, args ...string) (utils.Result, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, append([]string{name}, args...))
	effect := r.SideEffect
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return utils.Result{ExitCode: -1}, err
	}
	if effect != nil {
		return effect(name, args...)
	}
	return utils.Result{}, nil
}

// Cmds returns every recorded command as name plus arguments.
func (r *FakeRunner) Cmds() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string{}, r.cmds...)
}

// Lines returns every recorded command joined by spaces.
func (r *FakeRunner) Lines() []string {
	var lines []string
	for _, c := range r.Cmds() {
		lines = append(lines, strings.Join(c, " "))
	}
	return lines
}

// Called reports whether any recorded command line contains every given fragment.
func (r *FakeRunner) Called(fragments ...string) bool {
	for _, line := range r.Lines() {
		all := true
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (r *FakeRunner) ClearCmds() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = [][]string{}
}
