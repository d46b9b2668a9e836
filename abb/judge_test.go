package abb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubLLM returns a fixed response or error.
type stubLLM struct {
	response string
	err      error
	// lastMessage captures what the judge sent, for prompt assertions.
	lastMessage string
}

func (s *stubLLM) GenerateResponse(ctx context.Context, instructions, message string, schemaJSON []byte) (string, error) {
	s.lastMessage = message
	return s.response, s.err
}

func passingPrior() *ValidationResult {
	return &ValidationResult{
		Passed: true,
		Score:  80,
		Checks: []ValidationCheck{{Name: "word_count", Passed: true, Message: "ok"}},
	}
}

func TestJudge_NoBackendConfigured(t *testing.T) {
	j := NewJudge(nil, nil)
	qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
	assert.True(t, qa.Passed)
	assert.Equal(t, 80, qa.Score, "mechanical score carries through")
	assert.Contains(t, qa.Reasoning, "no judge backend")
}

func TestJudge_BackendVerdict(t *testing.T) {
	llm := &stubLLM{response: `{"passed": false, "score": 30, "reasoning": "shallow treatment"}`}
	j := NewJudge(llm, nil)
	sub := &Submission{ID: "s1", Payload: Payload{Content: "the submission body"}}
	bounty := &Bounty{ID: "b1", Title: "Write a guide"}

	qa := j.Assess(context.Background(), sub, bounty, passingPrior())
	assert.False(t, qa.Passed)
	assert.Equal(t, 30, qa.Score)
	assert.Equal(t, "shallow treatment", qa.Reasoning)

	assert.Contains(t, llm.lastMessage, "Write a guide")
	assert.Contains(t, llm.lastMessage, "the submission body")
	assert.Contains(t, llm.lastMessage, "word_count")
}

func TestJudge_FailsOpenOnBackendError(t *testing.T) {
	llm := &stubLLM{err: errors.New("connection refused")}
	j := NewJudge(llm, nil)
	qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
	assert.True(t, qa.Passed, "judge outage must not fail a mechanically valid submission")
	assert.Equal(t, 50, qa.Score)
}

func TestJudge_FailsOpenOnGarbageResponse(t *testing.T) {
	llm := &stubLLM{response: "I think this submission is pretty good overall!"}
	j := NewJudge(llm, nil)
	qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
	assert.True(t, qa.Passed)
	assert.Equal(t, 50, qa.Score)
}

func TestJudge_FailsOpenOnMissingFields(t *testing.T) {
	// Valid JSON with no verdict must not zero out a passing submission.
	for _, resp := range []string{`{}`, `{"reasoning": "looks fine"}`, `{"score": 70}`} {
		llm := &stubLLM{response: resp}
		j := NewJudge(llm, nil)
		qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
		assert.True(t, qa.Passed, "response %s", resp)
		assert.Equal(t, 50, qa.Score, "response %s", resp)
	}
}

func TestJudge_StripsCodeFence(t *testing.T) {
	llm := &stubLLM{response: "```json\n{\"passed\": true, \"score\": 90, \"reasoning\": \"solid\"}\n```"}
	j := NewJudge(llm, nil)
	qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
	assert.True(t, qa.Passed)
	assert.Equal(t, 90, qa.Score)
}

func TestJudge_ClampsScore(t *testing.T) {
	llm := &stubLLM{response: `{"passed": true, "score": 250, "reasoning": "enthusiastic"}`}
	j := NewJudge(llm, nil)
	qa := j.Assess(context.Background(), &Submission{}, &Bounty{}, passingPrior())
	assert.Equal(t, 100, qa.Score)
}
