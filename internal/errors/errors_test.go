package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderPreservesWrappedError(t *testing.T) {
	base := fmt.Errorf("connection refused")
	err := New(base).
		Component("directory").
		Category(CategoryNetwork).
		Context("endpoint", "getByUuid").
		Build()

	assert.Equal(t, "connection refused", err.Error())
	assert.Equal(t, "directory", err.GetComponent())
	assert.Equal(t, string(CategoryNetwork), err.GetCategory())
	assert.True(t, Is(err, base))
}

func TestCategoryMatchingThroughIs(t *testing.T) {
	err := Newf("no record for token").
		Component("directory").
		Category(CategoryNotFound).
		Build()

	assert.True(t, Is(err, ErrDeviceNotFound))
	assert.False(t, Is(err, ErrQuotaExceeded))
}

func TestSentinelCategories(t *testing.T) {
	assert.Equal(t, CategoryLimit, ErrQuotaExceeded.Category)
	assert.Equal(t, CategoryNotFound, ErrDeviceNotFound.Category)
	assert.Equal(t, CategoryState, ErrStateConflict.Category)
}

func TestContextIsCopied(t *testing.T) {
	err := Newf("boom").Context("attempt", 3).Build()

	ctx := err.GetContext()
	require.NotNil(t, ctx)
	ctx["attempt"] = 99

	assert.Equal(t, 3, err.GetContext()["attempt"])
}

func TestUnsetFieldsDefault(t *testing.T) {
	err := Newf("bare").Build()

	assert.Equal(t, ComponentUnknown, err.GetComponent())
	assert.Equal(t, string(CategoryGeneric), err.GetCategory())
	assert.Nil(t, err.GetContext())
}

func TestLogAttrsIncludesContext(t *testing.T) {
	err := Newf("bad interval").
		Component("conf").
		Category(CategoryValidation).
		Context("interval_s", 1).
		Build()

	attrs := err.LogAttrs()
	assert.Contains(t, attrs, "component")
	assert.Contains(t, attrs, "conf")
	assert.Contains(t, attrs, "interval_s")
}
