package validation

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormkit/errors"
)

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		rules    Rules
		value    any
		wantRule string
	}{
		{name: "required missing", rules: Rules{RuleRequired: true}, value: nil, wantRule: RuleRequired},
		{name: "required blank", rules: Rules{RuleRequired: true}, value: "  ", wantRule: RuleRequired},
		{name: "optional empty skips", rules: Rules{RuleMinLength: 3}, value: ""},
		{name: "min length", rules: Rules{RuleMinLength: 3}, value: "ab", wantRule: RuleMinLength},
		{name: "max length list", rules: Rules{RuleMaxLength: 2}, value: []any{1, 2, 3}, wantRule: RuleMaxLength},
		{name: "range ok", rules: Rules{RuleRange: []any{1, 10}}, value: 10},
		{name: "range low", rules: Rules{RuleRange: []int{1, 10}}, value: 0, wantRule: RuleRange},
		{name: "range on string length", rules: Rules{RuleRange: []any{2, 3}}, value: "abcd", wantRule: RuleRange},
		{name: "positive", rules: Rules{RulePositive: true}, value: -1, wantRule: RulePositive},
		{name: "negative", rules: Rules{RuleNegative: true}, value: 0, wantRule: RuleNegative},
		{name: "integer float", rules: Rules{RuleInteger: true}, value: 1.5, wantRule: RuleInteger},
		{name: "integer whole float", rules: Rules{RuleInteger: true}, value: 2.0},
		{name: "min", rules: Rules{RuleMin: 5}, value: 4, wantRule: RuleMin},
		{name: "max", rules: Rules{RuleMax: 5}, value: 5},
		{name: "enum", rules: Rules{RuleEnum: []string{"a", "b"}}, value: "c", wantRule: RuleEnum},
		{name: "enum numeric", rules: Rules{RuleEnum: []any{1, 2}}, value: 2.0},
		{name: "match string", rules: Rules{RuleMatch: `^\d+$`}, value: "12a", wantRule: RuleMatch},
		{name: "match regexp", rules: Rules{RuleMatch: regexp.MustCompile(`^a`)}, value: "abc"},
		{name: "email", rules: Rules{RuleValidEmail: true}, value: "nope", wantRule: RuleValidEmail},
		{name: "url", rules: Rules{RuleValidURL: true}, value: "example.com", wantRule: RuleValidURL},
		{name: "url ok", rules: Rules{RuleValidURL: true}, value: "https://example.com/a"},
		{name: "uuid", rules: Rules{RuleValidUUID: true}, value: "xyz", wantRule: RuleValidUUID},
		{name: "uuid ok", rules: Rules{RuleValidUUID: true}, value: "7f1c4a7e-1f7a-4f39-9d1c-0b7c5d3a2e10"},
		{
			name:     "custom",
			rules:    Rules{RuleValidate: func(v any) error { return fmt.Errorf("bad %v", v) }},
			value:    1,
			wantRule: RuleValidate,
		},
		{
			name:     "first violation in fixed order",
			rules:    Rules{RuleMaxLength: 1, RuleEnum: []any{"x"}},
			value:    "abc",
			wantRule: RuleMaxLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("field", tt.rules, tt.value)
			if tt.wantRule == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Equal(t, "field", errors.Detail(err, "field"))
			assert.Equal(t, tt.wantRule, errors.Detail(err, "rule"))
			assert.Equal(t, tt.value, errors.Detail(err, "value"))
		})
	}
}

func TestRules_Check(t *testing.T) {
	assert.NoError(t, Rules{RuleRequired: true, RuleRange: []any{1, 2}}.Check("age"))

	err := Rules{"$unknown": true}.Check("age")
	assert.True(t, errors.IsConfiguration(err))

	err = Rules{RuleMatch: "("}.Check("name")
	assert.True(t, errors.IsConfiguration(err))

	err = Rules{RuleRange: []any{1}}.Check("age")
	assert.True(t, errors.IsConfiguration(err))
}

func TestValidateAll(t *testing.T) {
	rules := map[string]Rules{
		"name":  {RuleRequired: true},
		"email": {RuleValidEmail: true},
	}
	err := ValidateAll([]string{"email", "name"}, rules, map[string]any{"email": "a@b.io"})
	require.Error(t, err)
	assert.Equal(t, "name", errors.Detail(err, "field"))

	assert.NoError(t, ValidateAll([]string{"email", "name"}, rules, map[string]any{"name": "x"}))
}
