package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EvalBool(t *testing.T) {
	evaluator := NewEvaluator()

	tests := []struct {
		name       string
		expression string
		variables  map[string]string
		expected   bool
		wantErr    error
	}{
		{
			name:       "numeric string above threshold",
			expression: "variables.amount > 100",
			variables:  map[string]string{"amount": "150"},
			expected:   true,
		},
		{
			name:       "numeric string below threshold",
			expression: "variables.amount > 100",
			variables:  map[string]string{"amount": "50"},
			expected:   false,
		},
		{
			name:       "top level identifier",
			expression: "amount >= 100 && stage == 'lead'",
			variables:  map[string]string{"amount": "100", "stage": "lead"},
			expected:   true,
		},
		{
			name:       "raw keeps string form",
			expression: `raw.zip == "007"`,
			variables:  map[string]string{"zip": "007"},
			expected:   true,
		},
		{
			name:       "string contains",
			expression: `variables.message contains "price"`,
			variables:  map[string]string{"message": "what is the price?"},
			expected:   true,
		},
		{
			name:       "defined helper",
			expression: `defined(variables.email)`,
			variables:  map[string]string{},
			expected:   false,
		},
		{
			name:       "non boolean result",
			expression: "variables.amount + 1",
			variables:  map[string]string{"amount": "1"},
			wantErr:    ErrNotBoolean,
		},
		{
			name:       "type mismatch at runtime",
			expression: "variables.amount > 100",
			variables:  map[string]string{"amount": "lots"},
			wantErr:    ErrEvaluate,
		},
		{
			name:       "syntax error",
			expression: "variables.amount >",
			variables:  map[string]string{},
			wantErr:    ErrCompile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.EvalBool(tt.expression, tt.variables)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluator_Compile(t *testing.T) {
	evaluator := NewEvaluator()

	assert.NoError(t, evaluator.Compile("variables.amount > 100"))
	assert.NoError(t, evaluator.Compile("unknown_name == 'x'"))
	assert.ErrorIs(t, evaluator.Compile(""), ErrCompile)
	assert.ErrorIs(t, evaluator.Compile("(("), ErrCompile)
}

func TestEnv(t *testing.T) {
	env := Env(map[string]string{"amount": "12.5", "first-name": "Ada", "variables": "shadow"})

	variables, ok := env["variables"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 12.5, variables["amount"], 0.0001)
	assert.Equal(t, "Ada", variables["first-name"])
	assert.Equal(t, "shadow", variables["variables"])

	assert.InDelta(t, 12.5, env["amount"], 0.0001)
	assert.NotContains(t, env, "first-name")
}
