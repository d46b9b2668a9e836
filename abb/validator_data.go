package abb

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/agentbounties/agent-bounty-board/internal/stools"
)

// maxReportedViolations caps per-category violation samples so one bad
// dataset cannot produce an unbounded result payload.
const maxReportedViolations = 10

// validateData decodes the payload as a JSON array of records and checks
// it against the data criteria. Unparsable input and missing required
// columns are hard structural failures; every other category is checked
// and reported independently.
func validateData(payload Payload, criteria *DataCriteria) mechanicalResult {
	if criteria.Format != "" && criteria.Format != "json" {
		return structuralFailure("format", fmt.Sprintf("unsupported data format %q", criteria.Format))
	}
	if len(payload.Data) == 0 {
		return structuralFailure("parse", "submission contains no data")
	}

	var rows []map[string]interface{}
	if err := stools.DecodeJSONPayload(payload.Data, &rows); err != nil {
		return structuralFailure("parse", fmt.Sprintf("payload is not a JSON array of records: %v", err))
	}
	if len(rows) == 0 {
		return structuralFailure("parse", "payload is an empty array")
	}

	// Missing required columns short-circuit before per-row checks; the
	// other categories would just restate the same defect.
	if check, ok := requiredFieldsCheck(rows, criteria.RequiredColumns); !ok {
		return mechanicalResult{
			passed: false,
			score:  0,
			checks: []ValidationCheck{
				{Name: "parse", Passed: true, Message: fmt.Sprintf("parsed %d records", len(rows))},
				check,
			},
			errMsg: check.Message,
		}
	}

	checks := []ValidationCheck{
		{Name: "parse", Passed: true, Message: fmt.Sprintf("parsed %d records", len(rows))},
	}
	if len(criteria.RequiredColumns) > 0 {
		checks = append(checks, ValidationCheck{
			Name:    "required_fields",
			Passed:  true,
			Message: "all required columns present",
		})
	}

	failedCategories := 0
	addCheck := func(c ValidationCheck) {
		checks = append(checks, c)
		if !c.Passed {
			failedCategories++
		}
	}

	addCheck(rowCountCheck(len(rows), criteria))
	if len(criteria.Constraints) > 0 {
		addCheck(constraintsCheck(rows, criteria.Constraints))
	}
	if len(criteria.UniqueColumns) > 0 {
		addCheck(uniquenessCheck(rows, criteria.UniqueColumns))
	}
	if criteria.MaxNullPercent > 0 {
		addCheck(nullRateCheck(rows, criteria))
	}

	score := clampScore(100 - 25*failedCategories)
	return mechanicalResult{
		passed: failedCategories == 0,
		score:  score,
		checks: checks,
	}
}

func rowCountCheck(n int, criteria *DataCriteria) ValidationCheck {
	if criteria.MinRows > 0 && n < criteria.MinRows {
		return ValidationCheck{
			Name:    "row_count",
			Passed:  false,
			Message: fmt.Sprintf("row count %d is below minimum %d", n, criteria.MinRows),
		}
	}
	if criteria.MaxRows > 0 && n > criteria.MaxRows {
		return ValidationCheck{
			Name:    "row_count",
			Passed:  false,
			Message: fmt.Sprintf("row count %d exceeds maximum %d", n, criteria.MaxRows),
		}
	}
	return ValidationCheck{Name: "row_count", Passed: true, Message: fmt.Sprintf("%d rows within bounds", n)}
}

func requiredFieldsCheck(rows []map[string]interface{}, required []string) (ValidationCheck, bool) {
	if len(required) == 0 {
		return ValidationCheck{}, true
	}
	// Presence is judged on the first record; columns that appear in some
	// rows but not others show up in the null-rate check instead.
	var missing []string
	for _, col := range required {
		if _, ok := rows[0][col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ValidationCheck{
			Name:    "required_fields",
			Passed:  false,
			Message: fmt.Sprintf("missing required columns: %v", missing),
		}, false
	}
	return ValidationCheck{}, true
}

func constraintsCheck(rows []map[string]interface{}, constraints []FieldConstraint) ValidationCheck {
	var violations []string
	total := 0
	record := func(msg string) {
		total++
		if len(violations) < maxReportedViolations {
			violations = append(violations, msg)
		}
	}

	for _, c := range constraints {
		var re *regexp.Regexp
		if c.Pattern != "" {
			var err error
			re, err = regexp.Compile(c.Pattern)
			if err != nil {
				record(fmt.Sprintf("column %q: invalid pattern %q", c.Column, c.Pattern))
				continue
			}
		}
		var expr *jmespath.JMESPath
		if c.Expression != "" {
			var err error
			expr, err = jmespath.Compile(c.Expression)
			if err != nil {
				record(fmt.Sprintf("constraint expression %q does not compile: %v", c.Expression, err))
				continue
			}
		}

		for i, row := range rows {
			if c.Column != "" {
				val, ok := row[c.Column]
				if !ok || val == nil {
					continue
				}
				if c.Type != "" && !hasJSONType(val, c.Type) {
					record(fmt.Sprintf("row %d: column %q is not %s", i, c.Column, c.Type))
					continue
				}
				if re != nil {
					s, ok := val.(string)
					if !ok || !re.MatchString(s) {
						record(fmt.Sprintf("row %d: column %q does not match pattern", i, c.Column))
						continue
					}
				}
				if len(c.Enum) > 0 {
					s := fmt.Sprintf("%v", val)
					if !contains(c.Enum, s) {
						record(fmt.Sprintf("row %d: column %q value %q not in enum", i, c.Column, s))
						continue
					}
				}
			}
			if expr != nil {
				result, err := expr.Search(row)
				if err != nil || !truthy(result) {
					record(fmt.Sprintf("row %d: expression %q not satisfied", i, c.Expression))
				}
			}
		}
	}

	if total > 0 {
		return ValidationCheck{
			Name:    "field_constraints",
			Passed:  false,
			Message: fmt.Sprintf("%d constraint violations", total),
			Details: violations,
		}
	}
	return ValidationCheck{Name: "field_constraints", Passed: true, Message: "all field constraints satisfied"}
}

// uniquenessCheck counts duplicate composite keys. Declaring key columns
// is the zero-duplicate policy: a single duplicate fails the check, and
// the duplicate count is reported for diagnosis.
func uniquenessCheck(rows []map[string]interface{}, keyColumns []string) ValidationCheck {
	seen := make(map[string]bool, len(rows))
	duplicates := 0
	for _, row := range rows {
		parts := make([]string, 0, len(keyColumns))
		for _, col := range keyColumns {
			parts = append(parts, fmt.Sprintf("%v", row[col]))
		}
		key := strings.Join(parts, "\x1f")
		if seen[key] {
			duplicates++
		}
		seen[key] = true
	}
	if duplicates > 0 {
		return ValidationCheck{
			Name:    "uniqueness",
			Passed:  false,
			Message: fmt.Sprintf("%d duplicate rows on key columns %v", duplicates, keyColumns),
		}
	}
	return ValidationCheck{Name: "uniqueness", Passed: true, Message: "no duplicates on key columns"}
}

func nullRateCheck(rows []map[string]interface{}, criteria *DataCriteria) ValidationCheck {
	columns := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			columns[col] = true
		}
	}
	var breaches []string
	for col := range columns {
		nulls := 0
		for _, row := range rows {
			if v, ok := row[col]; !ok || v == nil {
				nulls++
			}
		}
		pct := 100 * float64(nulls) / float64(len(rows))
		if pct > criteria.MaxNullPercent {
			breaches = append(breaches, fmt.Sprintf("%s (%.1f%%)", col, pct))
		}
	}
	if len(breaches) > 0 {
		sort.Strings(breaches)
		if len(breaches) > maxReportedViolations {
			breaches = breaches[:maxReportedViolations]
		}
		return ValidationCheck{
			Name:    "null_rate",
			Passed:  false,
			Message: fmt.Sprintf("columns exceed %.1f%% null ceiling: %v", criteria.MaxNullPercent, breaches),
		}
	}
	return ValidationCheck{Name: "null_rate", Passed: true, Message: "null rates within ceiling"}
}

func hasJSONType(val interface{}, typ string) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "bool":
		_, ok := val.(bool)
		return ok
	default:
		return true
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return true
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
