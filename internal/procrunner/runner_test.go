package procrunner

import (
	"context"
	"strings"
	"testing"
	"time"

	engerrors "migration-guard/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesStdout(t *testing.T) {
	runner := NewRunner(nil)

	result, err := runner.Run(context.Background(), CommandSpec{
		Command: "echo",
		Args:    []string{"hello"},
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRun_NonZeroExit(t *testing.T) {
	runner := NewRunner(nil)

	result, err := runner.Run(context.Background(), CommandSpec{
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
		Timeout: 5 * time.Second,
	})

	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorTypeToolError, engerrors.GetErrorType(err))
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "oops")
}

func TestRun_Timeout(t *testing.T) {
	runner := NewRunner(nil)

	_, err := runner.Run(context.Background(), CommandSpec{
		Command: "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorTypeToolTimeout, engerrors.GetErrorType(err))
	assert.True(t, engerrors.IsRecoverableError(err))
}

func TestRun_MissingCommand(t *testing.T) {
	runner := NewRunner(nil)

	_, err := runner.Run(context.Background(), CommandSpec{})
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorTypeValidation, engerrors.GetErrorType(err))
}

func TestRun_Stdin(t *testing.T) {
	runner := NewRunner(nil)

	result, err := runner.Run(context.Background(), CommandSpec{
		Command: "cat",
		Stdin:   strings.NewReader("piped restore payload"),
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, "piped restore payload", result.Stdout)
}

func TestMockRunner_StubMatching(t *testing.T) {
	mock := NewMockRunner()
	mock.Stub("mysqldump", "", &Result{ExitCode: 0, Stdout: "-- MySQL dump"}, nil)
	mock.Stub("mysql", "DROP DATABASE", &Result{ExitCode: 1, Stderr: "denied"},
		engerrors.NewToolError("mysql exited non-zero", nil))

	result, err := mock.Run(context.Background(), CommandSpec{Command: "mysqldump"})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "MySQL dump")

	_, err = mock.Run(context.Background(), CommandSpec{
		Command: "mysql",
		Args:    []string{"-e", "DROP DATABASE healthcare"},
	})
	require.Error(t, err)

	assert.Len(t, mock.CallsFor("mysqldump"), 1)
	assert.Len(t, mock.CallsFor("mysql"), 1)
}
