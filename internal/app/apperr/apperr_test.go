package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	ve := NewValidationError("amount", "must be greater than zero", "-1")
	ve.Add("currency", "unsupported currency", "XXX")

	err := fmt.Errorf("create: %w", ve)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "invalid input: amount: must be greater than zero; currency: unsupported currency", ve.Error())

	var target *ValidationError
	assert.True(t, errors.As(err, &target))
	assert.Len(t, target.Fields, 2)
}

func TestValidationError_OrNil(t *testing.T) {
	ve := &ValidationError{}
	assert.NoError(t, ve.OrNil())

	ve.Add("page", "must be at least 1", "0")
	assert.Error(t, ve.OrNil())
}
