// Package validate applies JSON-Schema-lite constraints to tool
// parameters before dispatch. Validation is strict: every
// parameter present must appear in the schema, and every error is
// collected rather than stopping at the first.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/search-mcp/search-mcp/internal/apierrors"
)

// Type is the parameter type vocabulary.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// Parameter is one schema entry.
type Parameter struct {
	Name      string        `json:"name"`
	Type      Type          `json:"type"`
	Required  bool          `json:"required,omitempty"`
	Enum      []interface{} `json:"enum,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Minimum   *float64      `json:"minimum,omitempty"`
	Maximum   *float64      `json:"maximum,omitempty"`
	MinLength *int          `json:"minLength,omitempty"`
	MaxLength *int          `json:"maxLength,omitempty"`
	Default   interface{}   `json:"default,omitempty"`

	// Description is carried for the tools/list surface; it plays no part
	// in validation.
	Description string `json:"description,omitempty"`
}

// Validate checks args against schema and returns every violation found.
func Validate(args map[string]interface{}, schema []Parameter) []string {
	var errs []string
	byName := make(map[string]*Parameter, len(schema))
	for i := range schema {
		byName[schema[i].Name] = &schema[i]
	}

	for i := range schema {
		p := &schema[i]
		value, present := args[p.Name]
		if !present {
			if p.Required {
				errs = append(errs, fmt.Sprintf("Required parameter missing: %s", p.Name))
			}
			continue
		}
		errs = append(errs, checkValue(p, value)...)
	}

	// Strict mode: reject parameters the schema does not name.
	for name := range args {
		if _, known := byName[name]; !known {
			errs = append(errs, fmt.Sprintf("Unknown parameter: %s", name))
		}
	}

	return errs
}

// ValidateOrThrow wraps any violations in a single ValidationError.
func ValidateOrThrow(args map[string]interface{}, schema []Parameter) error {
	errs := Validate(args, schema)
	if len(errs) == 0 {
		return nil
	}
	return apierrors.ValidationError(strings.Join(errs, "; ")).
		WithDetails(map[string]interface{}{"errors": errs})
}

// ApplyDefaults returns a copy of args with schema defaults filled in for
// absent optional parameters.
func ApplyDefaults(args map[string]interface{}, schema []Parameter) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range schema {
		if _, present := out[p.Name]; !present && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

func checkValue(p *Parameter, value interface{}) []string {
	switch p.Type {
	case TypeString:
		return checkString(p, value)
	case TypeNumber:
		return checkNumber(p, value)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return []string{typeError(p.Name, "boolean")}
		}
		return nil
	case TypeObject:
		// A plain object: not an array, not null.
		if _, ok := value.(map[string]interface{}); !ok {
			return []string{typeError(p.Name, "object")}
		}
		return nil
	case TypeArray:
		return checkArray(p, value)
	default:
		return []string{fmt.Sprintf("Parameter %s has unsupported schema type: %s", p.Name, p.Type)}
	}
}

func typeError(name, expected string) string {
	return fmt.Sprintf("Parameter %s must be of type %s", name, expected)
}

func checkString(p *Parameter, value interface{}) []string {
	s, ok := value.(string)
	if !ok {
		return []string{typeError(p.Name, "string")}
	}

	var errs []string
	if len(p.Enum) > 0 && !enumContains(p.Enum, s) {
		errs = append(errs, fmt.Sprintf("Parameter %s must be one of: %s", p.Name, enumList(p.Enum)))
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Parameter %s has invalid validation pattern: %s", p.Name, p.Pattern))
		} else if !re.MatchString(s) {
			errs = append(errs, fmt.Sprintf("Parameter %s does not match required pattern", p.Name))
		}
	}
	if p.MinLength != nil && len(s) < *p.MinLength {
		errs = append(errs, fmt.Sprintf("Parameter %s must be at least %d characters", p.Name, *p.MinLength))
	}
	if p.MaxLength != nil && len(s) > *p.MaxLength {
		errs = append(errs, fmt.Sprintf("Parameter %s must be at most %d characters", p.Name, *p.MaxLength))
	}
	return errs
}

func checkNumber(p *Parameter, value interface{}) []string {
	n, ok := numericValue(value)
	if !ok {
		return []string{typeError(p.Name, "number")}
	}
	if math.IsNaN(n) {
		return []string{fmt.Sprintf("Parameter %s must not be NaN", p.Name)}
	}

	var errs []string
	if len(p.Enum) > 0 && !enumContains(p.Enum, n) {
		errs = append(errs, fmt.Sprintf("Parameter %s must be one of: %s", p.Name, enumList(p.Enum)))
	}
	if p.Minimum != nil && n < *p.Minimum {
		errs = append(errs, fmt.Sprintf("Parameter %s must be >= %v", p.Name, *p.Minimum))
	}
	if p.Maximum != nil && n > *p.Maximum {
		errs = append(errs, fmt.Sprintf("Parameter %s must be <= %v", p.Name, *p.Maximum))
	}
	return errs
}

func checkArray(p *Parameter, value interface{}) []string {
	arr, ok := value.([]interface{})
	if !ok {
		return []string{typeError(p.Name, "array")}
	}

	var errs []string
	if p.MinLength != nil && len(arr) < *p.MinLength {
		errs = append(errs, fmt.Sprintf("Parameter %s must have at least %d items", p.Name, *p.MinLength))
	}
	if p.MaxLength != nil && len(arr) > *p.MaxLength {
		errs = append(errs, fmt.Sprintf("Parameter %s must have at most %d items", p.Name, *p.MaxLength))
	}
	return errs
}

// numericValue normalizes JSON numbers: encoding/json yields float64, but
// literals passed in tests may be ints.
func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, e := range enum {
		if en, ok := numericValue(e); ok {
			if vn, ok := numericValue(value); ok && en == vn {
				return true
			}
			continue
		}
		if e == value {
			return true
		}
	}
	return false
}

func enumList(enum []interface{}) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprintf("%v", e)
	}
	return strings.Join(parts, ", ")
}
