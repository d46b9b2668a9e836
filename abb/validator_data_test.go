package abb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataPayload(s string) Payload {
	return Payload{Data: json.RawMessage(s)}
}

func findCheck(t *testing.T, checks []ValidationCheck, name string) ValidationCheck {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, checks)
	return ValidationCheck{}
}

func TestValidateData_RowBounds(t *testing.T) {
	criteria := &DataCriteria{Format: "json", MinRows: 2, RequiredColumns: []string{"a"}}

	res := validateData(dataPayload(`[{"a":1},{"a":2}]`), criteria)
	assert.True(t, res.passed)
	assert.True(t, findCheck(t, res.checks, "row_count").Passed)

	res = validateData(dataPayload(`[{"a":1}]`), criteria)
	assert.False(t, res.passed)
	check := findCheck(t, res.checks, "row_count")
	assert.False(t, check.Passed)
	assert.Contains(t, check.Message, "row count")
}

func TestValidateData_MaxRows(t *testing.T) {
	criteria := &DataCriteria{MaxRows: 2}
	res := validateData(dataPayload(`[{"a":1},{"a":2},{"a":3}]`), criteria)
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "row_count").Message, "exceeds maximum")
}

func TestValidateData_RequiredColumns(t *testing.T) {
	criteria := &DataCriteria{RequiredColumns: []string{"a", "b"}}
	res := validateData(dataPayload(`[{"a":1},{"a":2,"b":3}]`), criteria)
	require.False(t, res.passed)
	assert.Equal(t, 0, res.score)
	check := findCheck(t, res.checks, "required_fields")
	assert.False(t, check.Passed)
	assert.Contains(t, check.Message, "b")
}

func TestValidateData_StructuralFailures(t *testing.T) {
	criteria := &DataCriteria{}

	res := validateData(dataPayload(`{"not":"an array"}`), criteria)
	assert.False(t, res.passed)
	assert.Equal(t, 0, res.score)

	res = validateData(dataPayload(`[]`), criteria)
	assert.False(t, res.passed)

	res = validateData(Payload{}, criteria)
	assert.False(t, res.passed)

	res = validateData(dataPayload(`[{"a":1}]`), &DataCriteria{Format: "csv"})
	assert.False(t, res.passed)
	assert.Contains(t, res.errMsg, "unsupported data format")
}

func TestValidateData_Uniqueness(t *testing.T) {
	criteria := &DataCriteria{UniqueColumns: []string{"id"}}

	res := validateData(dataPayload(`[{"id":1},{"id":2}]`), criteria)
	assert.True(t, res.passed)

	res = validateData(dataPayload(`[{"id":1},{"id":1},{"id":2}]`), criteria)
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "uniqueness").Message, "1 duplicate")
}

func TestValidateData_NullRate(t *testing.T) {
	criteria := &DataCriteria{MaxNullPercent: 40}
	res := validateData(dataPayload(`[{"a":1,"b":1},{"a":null,"b":2},{"a":null,"b":3},{"a":4,"b":4}]`), criteria)
	assert.False(t, res.passed)
	check := findCheck(t, res.checks, "null_rate")
	assert.Contains(t, check.Message, "a")
}

func TestValidateData_FieldConstraints(t *testing.T) {
	criteria := &DataCriteria{
		Constraints: []FieldConstraint{
			{Column: "kind", Enum: []string{"cat", "dog"}},
			{Column: "email", Type: "string", Pattern: `@`},
		},
	}

	res := validateData(dataPayload(`[{"kind":"cat","email":"a@b.c"},{"kind":"dog","email":"d@e.f"}]`), criteria)
	assert.True(t, res.passed)

	res = validateData(dataPayload(`[{"kind":"fish","email":"nope"}]`), criteria)
	assert.False(t, res.passed)
	check := findCheck(t, res.checks, "field_constraints")
	assert.Contains(t, check.Message, "2 constraint violations")
}

func TestValidateData_ExpressionConstraint(t *testing.T) {
	criteria := &DataCriteria{
		Constraints: []FieldConstraint{{Expression: "price >= `0`"}},
	}

	res := validateData(dataPayload(`[{"price":10},{"price":0}]`), criteria)
	assert.True(t, res.passed)

	res = validateData(dataPayload(`[{"price":10},{"price":-5}]`), criteria)
	assert.False(t, res.passed)
	assert.Contains(t, findCheck(t, res.checks, "field_constraints").Message, "1 constraint violation")
}

func TestValidateData_ViolationCap(t *testing.T) {
	rows := "["
	for i := 0; i < 30; i++ {
		if i > 0 {
			rows += ","
		}
		rows += `{"kind":"fish"}`
	}
	rows += "]"
	criteria := &DataCriteria{
		Constraints: []FieldConstraint{{Column: "kind", Enum: []string{"cat"}}},
	}
	res := validateData(dataPayload(rows), criteria)
	require.False(t, res.passed)
	check := findCheck(t, res.checks, "field_constraints")
	assert.Contains(t, check.Message, "30 constraint violations")
	sample, ok := check.Details.([]string)
	require.True(t, ok)
	assert.Len(t, sample, maxReportedViolations)
}

func TestValidateData_Deterministic(t *testing.T) {
	criteria := &DataCriteria{MinRows: 3, UniqueColumns: []string{"id"}, MaxNullPercent: 10}
	payload := dataPayload(`[{"id":1},{"id":1}]`)
	first := validateData(payload, criteria)
	second := validateData(payload, criteria)
	assert.Equal(t, first, second)
}
