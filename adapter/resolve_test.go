package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ioac/models"
)

func baseConfig() models.ModelConfig {
	return models.ModelConfig{
		ModelID:          "mistral-7b",
		Modality:         models.ModalityTextGeneration,
		Format:           models.FormatGGUF,
		RequiredMemoryMB: 4096,
	}
}

func baseHardware() models.HardwareProfile {
	return models.HardwareProfile{
		OS:                   "linux",
		CPUFamily:            "x86_64",
		GPUAvailable:         false,
		TotalMemoryBytes:     32 << 30,
		AvailableMemoryBytes: 16 << 30,
	}
}

func TestResolveFiltersModalityMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDescriptor("whisper", "whisper").WithModality(models.ModalitySpeechToText).WithFormat(models.FormatGGUF)))

	_, err := r.Resolve(baseConfig(), baseHardware())
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	reason := resErr.Rejections["whisper"]
	assert.Equal(t, RejectionModalityMismatch, reason.Kind)
	assert.Equal(t, SeverityHard, reason.Severity())
}

func TestResolveFiltersHardwareConstraint(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDescriptor("cuda-only", "cuda-only").
			WithModality(models.ModalityTextGeneration).
			WithFormat(models.FormatGGUF).
			WithGPURequirement(models.GPUCuda),
	))

	_, err := r.Resolve(baseConfig(), baseHardware()) // no GPU available
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, RejectionHardwareConstraint, resErr.Rejections["cuda-only"].Kind)
}

func TestResolveTieBreaksLexicographically(t *testing.T) {
	// Scenario S4: two descriptors match all hard constraints, both
	// priority 100, ids "alpha" and "beta". Resolve returns [alpha, beta].
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("beta", 100)))
	require.NoError(t, r.Register(llamaDescriptor("alpha", 100)))

	matches, err := r.Resolve(baseConfig(), baseHardware())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "alpha", matches[0].Descriptor.ID)
	assert.Equal(t, "beta", matches[1].Descriptor.ID)
}

func TestResolveIsDeterministicAcrossCalls(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("beta", 100)))
	require.NoError(t, r.Register(llamaDescriptor("alpha", 100)))
	require.NoError(t, r.Register(llamaDescriptor("gamma", 50)))

	first, err := r.Resolve(baseConfig(), baseHardware())
	require.NoError(t, err)
	second, err := r.Resolve(baseConfig(), baseHardware())
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Descriptor.ID, second[i].Descriptor.ID)
	}
}

func TestResolveOrdersByPriorityThenID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(llamaDescriptor("low-priority", 1)))
	require.NoError(t, r.Register(llamaDescriptor("high-priority", 100)))

	matches, err := r.Resolve(baseConfig(), baseHardware())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "high-priority", matches[0].Descriptor.ID)
}
