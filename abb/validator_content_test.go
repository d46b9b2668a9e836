package abb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentPayload(s string) Payload {
	return Payload{Content: s}
}

func wordsOfCount(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestValidateContent_WordBounds(t *testing.T) {
	criteria := &ContentCriteria{Format: "text", MinWords: 5, MaxWords: 10}

	res := validateContent(contentPayload(wordsOfCount(10)), criteria)
	assert.True(t, res.passed, "exactly maxWords must pass")

	res = validateContent(contentPayload(wordsOfCount(11)), criteria)
	assert.False(t, res.passed, "maxWords+1 must fail")
	assert.Contains(t, findCheck(t, res.checks, "word_count").Message, "exceeds maximum")

	res = validateContent(contentPayload(wordsOfCount(5)), criteria)
	assert.True(t, res.passed, "exactly minWords must pass")

	res = validateContent(contentPayload(wordsOfCount(4)), criteria)
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "word_count").Message, "below minimum")
}

func TestValidateContent_EmptyContent(t *testing.T) {
	res := validateContent(contentPayload("   \n"), &ContentCriteria{})
	assert.False(t, res.passed)
	assert.Equal(t, 0, res.score)
}

func TestValidateContent_RequiredSections(t *testing.T) {
	criteria := &ContentCriteria{
		Format:           "markdown",
		RequiredSections: []string{"Introduction", "Results"},
	}
	body := "# An Introduction to Widgets\n\nsome prose\n\n## results and discussion\n\nmore prose"
	res := validateContent(contentPayload(body), criteria)
	assert.True(t, res.passed, "section match is case-insensitive substring against headings")

	res = validateContent(contentPayload("# Introduction\n\nResults are mentioned only in prose"), criteria)
	require.False(t, res.passed)
	check := findCheck(t, res.checks, "required_sections")
	assert.Contains(t, check.Message, "Results")
}

func TestValidateContent_Keywords(t *testing.T) {
	criteria := &ContentCriteria{
		MustContain:    []string{"kubernetes"},
		MustNotContain: []string{"lorem"},
	}

	res := validateContent(contentPayload("A guide to Kubernetes networking"), criteria)
	assert.True(t, res.passed)

	res = validateContent(contentPayload("A guide to Docker networking"), criteria)
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "must_contain").Message, "kubernetes")

	res = validateContent(contentPayload("Kubernetes: Lorem something"), criteria)
	assert.False(t, res.passed)
	assert.True(t, findCheck(t, res.checks, "must_contain").Passed)
	assert.False(t, findCheck(t, res.checks, "must_not_contain").Passed)
}

func TestValidateContent_PlaceholderHeuristic(t *testing.T) {
	criteria := &ContentCriteria{PlagiarismCheck: true}

	res := validateContent(contentPayload("Original analysis of the dataset"), criteria)
	assert.True(t, res.passed)

	res = validateContent(contentPayload("Lorem ipsum dolor sit amet"), criteria)
	assert.False(t, res.passed)
	assert.False(t, findCheck(t, res.checks, "placeholder_text").Passed)
}

func TestValidateContent_ScoreDeductions(t *testing.T) {
	criteria := &ContentCriteria{MinWords: 100, MustContain: []string{"missing"}}
	res := validateContent(contentPayload("too short"), criteria)
	assert.False(t, res.passed)
	assert.Equal(t, 50, res.score)
}
