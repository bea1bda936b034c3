package discoerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(ItemNotFound, "Tracker.Update", "no such record")
	require.Error(t, err)
	assert.True(t, Is(err, ItemNotFound))
	assert.False(t, Is(err, ParameterInvalid))
	assert.Contains(t, err.Error(), "ItemNotFound")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ItemNotFound, "op", nil))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(UpdateReceivedRecordFailure, "Querier.ProcessRecord", cause)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, UpdateReceivedRecordFailure))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), ItemNotFound))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Kind(999).String())
}
