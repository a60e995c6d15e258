package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "config", err: fmt.Errorf("%w: dt_conn.url is required", ErrConfig), want: true},
		{name: "invalid rule", err: fmt.Errorf("rule 2: %w", ErrInvalidRule), want: true},
		{name: "missing data", err: fmt.Errorf("problem P-1: %w: affectedEntities", ErrMissingData), want: true},
		{name: "validation", err: ErrValidation, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "transport", err: errors.New("connection reset"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	err := fmt.Errorf("load: %w", fmt.Errorf("%w: bad operator", ErrInvalidRule))
	assert.True(t, IsInvalidRule(err))
	assert.False(t, IsConfig(err))
	assert.False(t, IsMissingData(err))
	assert.False(t, IsValidation(err))
}
