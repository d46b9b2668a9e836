package abb

import (
	"fmt"
	"strings"
)

// placeholderMarkers are obvious signs of template text left in a
// submission. A last-resort heuristic, not a similarity engine.
var placeholderMarkers = []string{
	"lorem ipsum",
	"[insert",
	"[your text here]",
	"[placeholder]",
	"tbd tbd",
	"xxx xxx xxx",
}

// validateContent checks prose submissions: word bounds, required markdown
// sections, keyword allow/deny lists, and an optional placeholder-text
// heuristic.
func validateContent(payload Payload, criteria *ContentCriteria) mechanicalResult {
	body := payload.Content
	if strings.TrimSpace(body) == "" {
		return structuralFailure("content_present", "submission contains no content")
	}

	checks := []ValidationCheck{
		{Name: "content_present", Passed: true, Message: "submission contains content"},
	}
	failedCategories := 0
	addCheck := func(c ValidationCheck) {
		checks = append(checks, c)
		if !c.Passed {
			failedCategories++
		}
	}

	words := len(strings.Fields(body))
	addCheck(wordCountCheck(words, criteria))

	if criteria.Format == "markdown" && len(criteria.RequiredSections) > 0 {
		addCheck(sectionsCheck(body, criteria.RequiredSections))
	}
	if len(criteria.MustContain) > 0 {
		addCheck(keywordCheck("must_contain", body, criteria.MustContain, true))
	}
	if len(criteria.MustNotContain) > 0 {
		addCheck(keywordCheck("must_not_contain", body, criteria.MustNotContain, false))
	}
	if criteria.PlagiarismCheck {
		addCheck(placeholderCheck(body))
	}

	score := clampScore(100 - 25*failedCategories)
	return mechanicalResult{
		passed: failedCategories == 0,
		score:  score,
		checks: checks,
	}
}

func wordCountCheck(words int, criteria *ContentCriteria) ValidationCheck {
	if criteria.MinWords > 0 && words < criteria.MinWords {
		return ValidationCheck{
			Name:    "word_count",
			Passed:  false,
			Message: fmt.Sprintf("word count %d is below minimum %d", words, criteria.MinWords),
		}
	}
	if criteria.MaxWords > 0 && words > criteria.MaxWords {
		return ValidationCheck{
			Name:    "word_count",
			Passed:  false,
			Message: fmt.Sprintf("word count %d exceeds maximum %d", words, criteria.MaxWords),
		}
	}
	return ValidationCheck{Name: "word_count", Passed: true, Message: fmt.Sprintf("%d words within bounds", words)}
}

// sectionsCheck extracts markdown heading text and requires each declared
// section name to appear as a case-insensitive substring of some heading.
func sectionsCheck(body string, required []string) ValidationCheck {
	var headings []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			headings = append(headings, heading)
		}
	}

	var missing []string
	for _, section := range required {
		want := strings.ToLower(section)
		found := false
		for _, heading := range headings {
			if strings.Contains(heading, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return ValidationCheck{
			Name:    "required_sections",
			Passed:  false,
			Message: fmt.Sprintf("missing required sections: %v", missing),
		}
	}
	return ValidationCheck{Name: "required_sections", Passed: true, Message: "all required sections present"}
}

func keywordCheck(name, body string, keywords []string, wantPresent bool) ValidationCheck {
	lower := strings.ToLower(body)
	var offenders []string
	for _, kw := range keywords {
		present := strings.Contains(lower, strings.ToLower(kw))
		if present != wantPresent {
			offenders = append(offenders, kw)
		}
	}
	if len(offenders) > 0 {
		verb := "missing required keywords"
		if !wantPresent {
			verb = "contains blocked keywords"
		}
		return ValidationCheck{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", verb, offenders),
		}
	}
	return ValidationCheck{Name: name, Passed: true, Message: "keyword requirements satisfied"}
}

func placeholderCheck(body string) ValidationCheck {
	lower := strings.ToLower(body)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return ValidationCheck{
				Name:    "placeholder_text",
				Passed:  false,
				Message: fmt.Sprintf("content contains placeholder text %q", marker),
			}
		}
	}
	return ValidationCheck{Name: "placeholder_text", Passed: true, Message: "no placeholder text detected"}
}
