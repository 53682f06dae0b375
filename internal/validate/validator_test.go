package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/search-mcp/search-mcp/internal/apierrors"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestRequiredParameterMissing(t *testing.T) {
	schema := []Parameter{{Name: "query", Type: TypeString, Required: true}}

	errs := Validate(map[string]interface{}{}, schema)
	require.Len(t, errs, 1)
	assert.Equal(t, "Required parameter missing: query", errs[0])
}

func TestOptionalParameterSkipped(t *testing.T) {
	schema := []Parameter{{Name: "limit", Type: TypeNumber}}
	assert.Empty(t, Validate(map[string]interface{}{}, schema))
}

func TestTypeMismatchNamesExpectedType(t *testing.T) {
	schema := []Parameter{
		{Name: "q", Type: TypeString},
		{Name: "n", Type: TypeNumber},
		{Name: "b", Type: TypeBoolean},
		{Name: "o", Type: TypeObject},
		{Name: "a", Type: TypeArray},
	}
	args := map[string]interface{}{
		"q": 1.0,
		"n": "x",
		"b": "true",
		"o": []interface{}{},
		"a": map[string]interface{}{},
	}

	errs := Validate(args, schema)
	require.Len(t, errs, 5)
	assert.Contains(t, errs, "Parameter q must be of type string")
	assert.Contains(t, errs, "Parameter n must be of type number")
	assert.Contains(t, errs, "Parameter b must be of type boolean")
	assert.Contains(t, errs, "Parameter o must be of type object")
	assert.Contains(t, errs, "Parameter a must be of type array")
}

func TestObjectRejectsNull(t *testing.T) {
	schema := []Parameter{{Name: "o", Type: TypeObject}}
	errs := Validate(map[string]interface{}{"o": nil}, schema)
	require.Len(t, errs, 1)
}

func TestStringConstraints(t *testing.T) {
	schema := []Parameter{{
		Name:      "mode",
		Type:      TypeString,
		Enum:      []interface{}{"partial", "exact"},
		MinLength: intPtr(3),
		MaxLength: intPtr(10),
	}}

	assert.Empty(t, Validate(map[string]interface{}{"mode": "exact"}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"mode": "fuzzy"}, schema))

	schema = []Parameter{{Name: "s", Type: TypeString, MinLength: intPtr(3)}}
	assert.NotEmpty(t, Validate(map[string]interface{}{"s": "ab"}, schema))

	schema = []Parameter{{Name: "s", Type: TypeString, MaxLength: intPtr(2)}}
	assert.NotEmpty(t, Validate(map[string]interface{}{"s": "abc"}, schema))
}

func TestStringPattern(t *testing.T) {
	schema := []Parameter{{Name: "id", Type: TypeString, Pattern: `^[a-z]+$`}}
	assert.Empty(t, Validate(map[string]interface{}{"id": "abc"}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"id": "ABC"}, schema))
}

func TestInvalidPatternProducesDistinctError(t *testing.T) {
	schema := []Parameter{{Name: "id", Type: TypeString, Pattern: `[unclosed`}}
	errs := Validate(map[string]interface{}{"id": "x"}, schema)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "invalid validation pattern")
}

func TestNumberConstraints(t *testing.T) {
	schema := []Parameter{{
		Name:    "limit",
		Type:    TypeNumber,
		Minimum: floatPtr(1),
		Maximum: floatPtr(100),
	}}

	assert.Empty(t, Validate(map[string]interface{}{"limit": 50.0}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"limit": 0.0}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"limit": 101.0}, schema))
}

func TestNumberRejectsNaN(t *testing.T) {
	schema := []Parameter{{Name: "n", Type: TypeNumber}}
	errs := Validate(map[string]interface{}{"n": math.NaN()}, schema)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "NaN")
}

func TestArrayItemCountBounds(t *testing.T) {
	schema := []Parameter{{
		Name:      "items",
		Type:      TypeArray,
		MinLength: intPtr(1),
		MaxLength: intPtr(2),
	}}

	assert.Empty(t, Validate(map[string]interface{}{"items": []interface{}{1.0}}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"items": []interface{}{}}, schema))
	assert.NotEmpty(t, Validate(map[string]interface{}{"items": []interface{}{1.0, 2.0, 3.0}}, schema))
}

func TestUnknownParameterStrictMode(t *testing.T) {
	schema := []Parameter{{Name: "q", Type: TypeString}}
	errs := Validate(map[string]interface{}{"q": "x", "bogus": 1.0}, schema)
	require.Len(t, errs, 1)
	assert.Equal(t, "Unknown parameter: bogus", errs[0])
}

func TestValidateCollectsAllErrors(t *testing.T) {
	schema := []Parameter{
		{Name: "a", Type: TypeString, Required: true},
		{Name: "b", Type: TypeNumber, Required: true},
	}
	errs := Validate(map[string]interface{}{"c": 1.0}, schema)
	assert.Len(t, errs, 3)
}

func TestValidateOrThrowWrapsInValidationError(t *testing.T) {
	schema := []Parameter{{Name: "q", Type: TypeString, Required: true}}

	err := ValidateOrThrow(map[string]interface{}{}, schema)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeValidationError, apiErr.Code)

	assert.NoError(t, ValidateOrThrow(map[string]interface{}{"q": "ok"}, schema))
}

func TestApplyDefaults(t *testing.T) {
	schema := []Parameter{
		{Name: "limit", Type: TypeNumber, Default: 50.0},
		{Name: "q", Type: TypeString},
	}

	out := ApplyDefaults(map[string]interface{}{"q": "x"}, schema)
	assert.Equal(t, 50.0, out["limit"])
	assert.Equal(t, "x", out["q"])

	// An explicit value wins over the default.
	out = ApplyDefaults(map[string]interface{}{"limit": 10.0}, schema)
	assert.Equal(t, 10.0, out["limit"])
}
