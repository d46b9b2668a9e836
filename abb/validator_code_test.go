package abb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agentbounties/agent-bounty-board/sandbox"
)

func TestValidateCode_StructuralFailures(t *testing.T) {
	runner := new(sandbox.MockRunner)
	criteria := &CodeCriteria{Language: "python"}

	res := validateCode(context.Background(), runner, Payload{Code: "  "}, criteria)
	assert.False(t, res.passed)
	assert.Equal(t, 0, res.score)

	withFiles := &CodeCriteria{Language: "python", RequiredFiles: []string{"requirements.txt"}}
	res = validateCode(context.Background(), runner, Payload{Code: "print(1)"}, withFiles)
	assert.False(t, res.passed)
	assert.Contains(t, res.errMsg, "requirements.txt")

	// No sandbox call happens on structural failure.
	runner.AssertNotCalled(t, "Run")
}

func TestValidateCode_ExecutionOnly(t *testing.T) {
	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(&sandbox.RunResult{Stdout: "done", ExitCode: 0}, nil)

	res := validateCode(context.Background(), runner, Payload{Code: "print('done')"}, &CodeCriteria{Language: "python"})
	assert.True(t, res.passed)
	assert.Equal(t, 100, res.score)
	runner.AssertExpectations(t)
}

func TestValidateCode_ExecutionCrash(t *testing.T) {
	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(&sandbox.RunResult{Stderr: "Traceback", ExitCode: 1}, nil)

	res := validateCode(context.Background(), runner, Payload{Code: "raise"}, &CodeCriteria{Language: "python"})
	assert.False(t, res.passed)
	assert.Equal(t, 0, res.score)
	assert.Contains(t, findCheck(t, res.checks, "execution").Message, "exited with code 1")
}

func TestValidateCode_TestCases(t *testing.T) {
	criteria := &CodeCriteria{
		Language: "python",
		TestCases: []TestCase{
			{Name: "doubles", Input: "2", Expected: "4"},
			{Name: "triples", Input: "3", Expected: "9"},
		},
	}

	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(s sandbox.RunSpec) bool { return s.Stdin == "2" })).
		Return(&sandbox.RunResult{Stdout: "4\n", ExitCode: 0}, nil)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(s sandbox.RunSpec) bool { return s.Stdin == "3" })).
		Return(&sandbox.RunResult{Stdout: "8\n", ExitCode: 0}, nil)

	res := validateCode(context.Background(), runner, Payload{Code: "code"}, criteria)
	require.False(t, res.passed)
	assert.True(t, findCheck(t, res.checks, "doubles").Passed)
	wrong := findCheck(t, res.checks, "triples")
	assert.False(t, wrong.Passed)
	assert.Contains(t, wrong.Message, "does not match")

	// 50 for executing plus half the test cases passing.
	assert.Equal(t, 75, res.score)
}

func TestValidateCode_AllTestCasesCrash(t *testing.T) {
	criteria := &CodeCriteria{
		Language:  "python",
		TestCases: []TestCase{{Input: "a", Expected: "A"}, {Input: "b", Expected: "B"}},
	}
	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(&sandbox.RunResult{Stderr: "Traceback", ExitCode: 1}, nil)

	// A program that never completes a run cleanly earns no execution
	// credit, same as a timeout.
	res := validateCode(context.Background(), runner, Payload{Code: "raise"}, criteria)
	assert.False(t, res.passed)
	assert.Equal(t, 0, res.score)
	assert.Contains(t, findCheck(t, res.checks, "test_case_1").Message, "exited with code 1")
}

func TestValidateCode_AllTestCasesPass(t *testing.T) {
	criteria := &CodeCriteria{
		Language:  "python",
		TestCases: []TestCase{{Input: "a", Expected: "A"}, {Input: "b", Expected: "B"}},
	}
	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(s sandbox.RunSpec) bool { return s.Stdin == "a" })).
		Return(&sandbox.RunResult{Stdout: " A ", ExitCode: 0}, nil)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(s sandbox.RunSpec) bool { return s.Stdin == "b" })).
		Return(&sandbox.RunResult{Stdout: "B", ExitCode: 0}, nil)

	res := validateCode(context.Background(), runner, Payload{Code: "code"}, criteria)
	assert.True(t, res.passed, "stdout comparison trims whitespace")
	assert.Equal(t, 100, res.score)
	assert.True(t, findCheck(t, res.checks, "test_case_1").Passed)
	assert.True(t, findCheck(t, res.checks, "test_case_2").Passed)
}

func TestValidateCode_Timeout(t *testing.T) {
	runner := new(sandbox.MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(&sandbox.RunResult{TimedOut: true, DurationMs: 10000}, nil)

	res := validateCode(context.Background(), runner, Payload{Code: "while True: pass"}, &CodeCriteria{Language: "python"})
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "execution").Message, "timed out")
}
