package abb

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentbounties/agent-bounty-board/sandbox"
)

// validateCode checks that the payload carries runnable code, executes it
// in the sandbox, and runs declared test cases by piping each case's input
// to the program and comparing trimmed stdout to the trimmed expected
// output.
func validateCode(ctx context.Context, runner sandbox.Runner, payload Payload, criteria *CodeCriteria) mechanicalResult {
	if strings.TrimSpace(payload.Code) == "" {
		return structuralFailure("code_present", "submission contains no code")
	}
	var missing []string
	for _, name := range criteria.RequiredFiles {
		if _, ok := payload.Files[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return structuralFailure("required_files", fmt.Sprintf("missing required files: %v", missing))
	}
	if runner == nil {
		return structuralFailure("sandbox", "no sandbox runner configured for code bounties")
	}

	checks := []ValidationCheck{
		{Name: "code_present", Passed: true, Message: "submission contains code"},
	}

	baseSpec := sandbox.RunSpec{
		Language:     criteria.Language,
		Code:         payload.Code,
		Files:        payload.Files,
		TimeoutMs:    criteria.TimeoutMs,
		MemoryMB:     criteria.MemoryMB,
		AllowNetwork: criteria.AllowNetwork,
	}

	if len(criteria.TestCases) == 0 {
		res, err := runner.Run(ctx, baseSpec)
		if err != nil {
			// Unsupported language and similar setup failures are
			// structural, not execution failures.
			return structuralFailure("execution", fmt.Sprintf("sandbox run failed: %v", err))
		}
		check := executionCheck(res)
		checks = append(checks, check)
		if !check.Passed {
			return mechanicalResult{passed: false, score: 0, checks: checks}
		}
		return mechanicalResult{passed: true, score: 100, checks: checks}
	}

	executed := false
	passedCases := 0
	for i, tc := range criteria.TestCases {
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("test_case_%d", i+1)
		}
		spec := baseSpec
		spec.Stdin = tc.Input
		res, err := runner.Run(ctx, spec)
		if err != nil {
			return structuralFailure("execution", fmt.Sprintf("sandbox run failed: %v", err))
		}
		if res.TimedOut {
			checks = append(checks, ValidationCheck{
				Name:    name,
				Passed:  false,
				Message: fmt.Sprintf("execution timed out after %dms", res.DurationMs),
			})
			continue
		}
		if res.ExitCode != 0 {
			checks = append(checks, ValidationCheck{
				Name:    name,
				Passed:  false,
				Message: fmt.Sprintf("program exited with code %d", res.ExitCode),
				Details: map[string]string{"stderr": truncate(res.Stderr, 500)},
			})
			continue
		}
		executed = true
		got := strings.TrimSpace(res.Stdout)
		want := strings.TrimSpace(tc.Expected)
		if got == want {
			passedCases++
			checks = append(checks, ValidationCheck{Name: name, Passed: true, Message: "output matches expected"})
		} else {
			checks = append(checks, ValidationCheck{
				Name:    name,
				Passed:  false,
				Message: "output does not match expected",
				Details: map[string]string{"expected": truncate(want, 200), "actual": truncate(got, 200)},
			})
		}
	}

	// Half the score for at least one clean run, half for the fraction of
	// test cases passed. Crashes and timeouts both forfeit the execution
	// half.
	execScore := 0
	if executed {
		execScore = 50
	}
	caseScore := 50 * passedCases / len(criteria.TestCases)
	allPassed := executed && passedCases == len(criteria.TestCases)
	return mechanicalResult{
		passed: allPassed,
		score:  clampScore(execScore + caseScore),
		checks: checks,
	}
}

func executionCheck(res *sandbox.RunResult) ValidationCheck {
	switch {
	case res.TimedOut:
		return ValidationCheck{
			Name:    "execution",
			Passed:  false,
			Message: fmt.Sprintf("execution timed out after %dms", res.DurationMs),
		}
	case res.ExitCode != 0:
		return ValidationCheck{
			Name:    "execution",
			Passed:  false,
			Message: fmt.Sprintf("program exited with code %d", res.ExitCode),
			Details: map[string]string{"stderr": truncate(res.Stderr, 500)},
		}
	default:
		return ValidationCheck{Name: "execution", Passed: true, Message: "program executed successfully"}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
