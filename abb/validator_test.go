package abb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataBounty(criteria *DataCriteria) *Bounty {
	return &Bounty{
		ID:       "b1",
		Title:    "collect rows",
		Criteria: Criteria{Type: CriteriaTypeData, Data: criteria},
	}
}

func TestRouter_UnknownCriteriaType(t *testing.T) {
	router := NewRouter(RouterConfig{})
	bounty := &Bounty{Criteria: Criteria{Type: "video"}}

	result := router.Validate(context.Background(), &Submission{}, bounty)
	require.False(t, result.Passed)
	assert.Equal(t, 0, result.Score)
	assert.Empty(t, result.Checks)
	assert.Contains(t, result.Error, "unrecognized criteria type")
}

func TestRouter_EndToEndData(t *testing.T) {
	router := NewRouter(RouterConfig{})
	bounty := dataBounty(&DataCriteria{Format: "json", MinRows: 2, RequiredColumns: []string{"a"}})

	sub := &Submission{Payload: Payload{Data: json.RawMessage(`[{"a":1},{"a":2}]`)}}
	result := router.Validate(context.Background(), sub, bounty)
	assert.True(t, result.Passed)

	sub = &Submission{Payload: Payload{Data: json.RawMessage(`[{"a":1}]`)}}
	result = router.Validate(context.Background(), sub, bounty)
	require.False(t, result.Passed)
	found := false
	for _, c := range result.Checks {
		if !c.Passed {
			assert.Contains(t, c.Message, "row count")
			found = true
		}
	}
	assert.True(t, found, "a failing check must mention the row count")
}

func TestRouter_JudgeShortCircuitOnMechanicalFail(t *testing.T) {
	llm := &stubLLM{response: `{"passed": true, "score": 100, "reasoning": "n/a"}`}
	router := NewRouter(RouterConfig{Judge: NewJudge(llm, nil)})
	bounty := dataBounty(&DataCriteria{MinRows: 5})

	sub := &Submission{Payload: Payload{Data: json.RawMessage(`[{"a":1}]`)}}
	result := router.Validate(context.Background(), sub, bounty)
	assert.False(t, result.Passed)
	assert.Nil(t, result.QualityAssessment, "judge must not run on mechanical failure")
	assert.Empty(t, llm.lastMessage)
}

func TestRouter_JudgeDowngradesPass(t *testing.T) {
	llm := &stubLLM{response: `{"passed": false, "score": 20, "reasoning": "low effort"}`}
	router := NewRouter(RouterConfig{Judge: NewJudge(llm, nil)})
	bounty := dataBounty(&DataCriteria{MinRows: 1})

	sub := &Submission{Payload: Payload{Data: json.RawMessage(`[{"a":1}]`)}}
	result := router.Validate(context.Background(), sub, bounty)
	require.NotNil(t, result.QualityAssessment)
	assert.False(t, result.Passed, "judge disagreement fails the submission")
	// (100 + 20) / 2
	assert.Equal(t, 60, result.Score)
}

func TestRouter_ContentBlendWeightsQuality(t *testing.T) {
	llm := &stubLLM{response: `{"passed": true, "score": 40, "reasoning": "serviceable"}`}
	router := NewRouter(RouterConfig{Judge: NewJudge(llm, nil)})
	bounty := &Bounty{
		Criteria: Criteria{Type: CriteriaTypeContent, Content: &ContentCriteria{MinWords: 1}},
	}

	sub := &Submission{Payload: Payload{Content: "enough words here"}}
	result := router.Validate(context.Background(), sub, bounty)
	require.True(t, result.Passed)
	// 0.3*100 + 0.7*40
	assert.Equal(t, 58, result.Score)
}

func TestRouter_MissingVariant(t *testing.T) {
	router := NewRouter(RouterConfig{})
	bounty := &Bounty{Criteria: Criteria{Type: CriteriaTypeCode}}
	result := router.Validate(context.Background(), &Submission{}, bounty)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Error, "code criteria missing")
}

func TestBlendScores(t *testing.T) {
	assert.Equal(t, 75, blendScores(CriteriaTypeData, 100, 50))
	assert.Equal(t, 76, blendScores(CriteriaTypeCode, 81, 70))
	assert.Equal(t, 65, blendScores(CriteriaTypeContent, 100, 50))
	assert.Equal(t, 100, blendScores(CriteriaTypeData, 100, 100))
}

func TestCriteria_Validate(t *testing.T) {
	valid := Criteria{Type: CriteriaTypeURL, URL: &URLCriteria{}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Criteria{Type: CriteriaTypeCode}).Validate())
	assert.Error(t, (&Criteria{Type: CriteriaTypeCode, Data: &DataCriteria{}}).Validate())
	twoVariants := Criteria{Type: CriteriaTypeCode, Code: &CodeCriteria{}, Data: &DataCriteria{}}
	assert.Error(t, twoVariants.Validate())
	assert.Error(t, (&Criteria{Type: "video", Code: &CodeCriteria{}}).Validate())
}
