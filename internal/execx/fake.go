package execx

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Call records a single command dispatched to a FakeRunner.
type Call struct {
	Dir   string
	Name  string
	Args  []string
	Stdin string
}

// String renders the call the way it would appear on a shell command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// FakeRunner is a scripted Runner for tests. Responses are matched by
// substring against the rendered command line; unmatched commands succeed
// with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Call
	responses []fakeResponse
}

type fakeResponse struct {
	match  string
	output string
	err    error
	once   bool
	used   bool
}

// NewFakeRunner returns an empty scripted runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Respond registers output/err for any command line containing match.
func (f *FakeRunner) Respond(match, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{match: match, output: output, err: err})
}

// RespondOnce registers a response consumed by the first matching command only.
func (f *FakeRunner) RespondOnce(match, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{match: match, output: output, err: err, once: true})
}

// FailWith registers a plain error response for matching commands.
func (f *FakeRunner) FailWith(match, output string) {
	f.Respond(match, output, errors.New("exit status 1"))
}

// Calls returns a copy of every recorded call.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CommandLines returns the rendered command line of every recorded call.
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Ran reports whether any recorded command line contains the substring.
func (f *FakeRunner) Ran(substr string) bool {
	for _, line := range f.CommandLines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return f.dispatch(ctx, dir, "", name, args...)
}

func (f *FakeRunner) RunWithStdin(ctx context.Context, dir, stdin, name string, args ...string) (string, error) {
	return f.dispatch(ctx, dir, stdin, name, args...)
}

func (f *FakeRunner) dispatch(ctx context.Context, dir, stdin, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	call := Call{Dir: dir, Name: name, Args: args, Stdin: stdin}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	line := call.String()
	for i := range f.responses {
		r := &f.responses[i]
		if r.once && r.used {
			continue
		}
		if strings.Contains(line, r.match) {
			r.used = true
			if r.err != nil {
				return r.output, &ExitError{Cmd: line, Output: r.output, Err: r.err}
			}
			return r.output, nil
		}
	}

	return "", nil
}

var _ Runner = (*FakeRunner)(nil)
var _ Runner = (*CmdRunner)(nil)
