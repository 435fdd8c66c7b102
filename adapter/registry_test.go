package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ioac/models"
)

func llamaDescriptor(id string, priority int) CapabilityDescriptor {
	return NewDescriptor(id, id).
		WithModality(models.ModalityTextGeneration).
		WithFormat(models.FormatGGUF).
		WithQuantization("q4_0").
		WithPriority(priority)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("llama-7b", 10)))

	d, ok := r.Lookup("llama-7b")
	require.True(t, ok)
	assert.Equal(t, "llama-7b", d.ID)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("llama-7b", 10)))

	err := r.Register(llamaDescriptor("llama-7b", 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDuplicateBackend)
}

func TestDeregisterMissingFails(t *testing.T) {
	r := NewRegistry()
	err := r.Deregister("absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendNotFound)
}

func TestRegisterDeregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("llama-7b", 10)))
	require.NoError(t, r.Deregister("llama-7b"))

	_, ok := r.Lookup("llama-7b")
	assert.False(t, ok)
}

func TestUpdateHealthMutatesSingleDescriptor(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("llama-7b", 10)))
	require.NoError(t, r.UpdateHealth("llama-7b", models.HealthDegraded))

	d, ok := r.Lookup("llama-7b")
	require.True(t, ok)
	assert.Equal(t, models.HealthDegraded, d.Health)
}

func TestListByKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("llama-7b", 10)))
	require.NoError(t, r.Register(NewDescriptor("whisper", "whisper").WithModality(models.ModalitySpeechToText)))

	matches := r.ListByKind(models.ModalityTextGeneration)
	require.Len(t, matches, 1)
	assert.Equal(t, "llama-7b", matches[0].ID)
}
