package procrunner

import (
	"context"
	"strings"
	"sync"
)

// MockRunner is a scriptable ProcessRunner for tests. Responses are matched
// by command name plus an optional argument substring; unmatched invocations
// succeed with empty output.
type MockRunner struct {
	mu        sync.Mutex
	responses []mockResponse
	Calls     []CommandSpec
}

type mockResponse struct {
	command  string
	argMatch string
	result   *Result
	err      error
}

// NewMockRunner creates an empty mock runner
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Stub registers a response for invocations of command whose joined argument
// list contains argMatch (empty argMatch matches any invocation)
func (m *MockRunner) Stub(command, argMatch string, result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result == nil {
		result = &Result{}
	}
	m.responses = append(m.responses, mockResponse{
		command:  command,
		argMatch: argMatch,
		result:   result,
		err:      err,
	})
}

// Run records the invocation and returns the first matching stubbed response
func (m *MockRunner) Run(ctx context.Context, spec CommandSpec) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, spec)

	joined := strings.Join(spec.Args, " ")
	for _, resp := range m.responses {
		if resp.command != spec.Command {
			continue
		}
		if resp.argMatch != "" && !strings.Contains(joined, resp.argMatch) {
			continue
		}
		return resp.result, resp.err
	}

	return &Result{ExitCode: 0}, nil
}

// CallsFor returns the recorded invocations of a command
func (m *MockRunner) CallsFor(command string) []CommandSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	var calls []CommandSpec
	for _, c := range m.Calls {
		if c.Command == command {
			calls = append(calls, c)
		}
	}
	return calls
}
