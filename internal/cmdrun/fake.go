package cmdrun

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeRunner replays canned outputs keyed by the full command line. It
// records every call and is safe for concurrent use.
type FakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errors  map[string]error
	calls   []string
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
	}
}

// Set registers the output for a command line such as "iw dev ap1-wlan1 info".
func (f *FakeRunner) Set(command, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[command] = output
	delete(f.errors, command)
}

// Fail makes a command line return err.
func (f *FakeRunner) Fail(command string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[command] = err
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	command := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.errors[command]; ok {
		return "", err
	}
	if out, ok := f.outputs[command]; ok {
		return out, nil
	}
	return "", fmt.Errorf("no canned output for %q", command)
}

// Calls returns the command lines run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
