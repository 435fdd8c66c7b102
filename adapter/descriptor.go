// Package adapter implements the Adapter Registry: a map of backend
// capability descriptors with negotiation and deterministic resolution.
package adapter

import "ioac/models"

// CapabilityDescriptor is a static description of what a backend supports.
// The registry uses it to deterministically resolve the best adapter for a
// given request.
type CapabilityDescriptor struct {
	ID       string
	Name     string
	Priority int

	Modalities           map[models.Modality]struct{}
	SupportedFormats     map[models.Format]struct{}
	SupportedQuantisation map[string]struct{}

	// MinMemoryMB is the declared minimum available host memory required
	// to run this backend at all (distinct from a per-request
	// RequiredMemoryMB, which the scheduler evaluates separately).
	MinMemoryMB uint64

	// RequiresGPU and RequiredGPUType express a hardware constraint; a
	// zero RequiredGPUType with RequiresGPU false means no GPU constraint.
	RequiresGPU     bool
	RequiredGPUType models.GPUType

	Health models.Health
}

// NewDescriptor creates a descriptor with empty capability sets, ready for
// the fluent With* builder methods.
func NewDescriptor(id, name string) CapabilityDescriptor {
	return CapabilityDescriptor{
		ID:                    id,
		Name:                  name,
		Modalities:            map[models.Modality]struct{}{},
		SupportedFormats:      map[models.Format]struct{}{},
		SupportedQuantisation: map[string]struct{}{},
		Health:                models.HealthUnknown,
	}
}

// WithModality registers a supported modality and returns the receiver for
// chaining, mirroring the builder pattern the system this core was derived
// from uses for its AdapterDescriptor.
func (d CapabilityDescriptor) WithModality(m models.Modality) CapabilityDescriptor {
	d.Modalities[m] = struct{}{}
	return d
}

func (d CapabilityDescriptor) WithFormat(f models.Format) CapabilityDescriptor {
	d.SupportedFormats[f] = struct{}{}
	return d
}

func (d CapabilityDescriptor) WithQuantization(label string) CapabilityDescriptor {
	d.SupportedQuantisation[label] = struct{}{}
	return d
}

func (d CapabilityDescriptor) WithPriority(p int) CapabilityDescriptor {
	d.Priority = p
	return d
}

func (d CapabilityDescriptor) WithMinMemoryMB(mb uint64) CapabilityDescriptor {
	d.MinMemoryMB = mb
	return d
}

func (d CapabilityDescriptor) WithGPURequirement(gpuType models.GPUType) CapabilityDescriptor {
	d.RequiresGPU = true
	d.RequiredGPUType = gpuType
	return d
}

func (d CapabilityDescriptor) supportsModality(m models.Modality) bool {
	_, ok := d.Modalities[m]
	return ok
}

func (d CapabilityDescriptor) supportsFormat(f models.Format) bool {
	_, ok := d.SupportedFormats[f]
	return ok
}

func (d CapabilityDescriptor) supportsQuantisation(label string) bool {
	if label == "" {
		return true
	}
	_, ok := d.SupportedQuantisation[label]
	return ok
}

func (d CapabilityDescriptor) modalityLabels() []string {
	out := make([]string, 0, len(d.Modalities))
	for m := range d.Modalities {
		out = append(out, m.String())
	}
	return out
}

func (d CapabilityDescriptor) formatLabels() []string {
	out := make([]string, 0, len(d.SupportedFormats))
	for f := range d.SupportedFormats {
		out = append(out, f.String())
	}
	return out
}

func (d CapabilityDescriptor) quantisationLabels() []string {
	out := make([]string, 0, len(d.SupportedQuantisation))
	for q := range d.SupportedQuantisation {
		out = append(out, q)
	}
	return out
}
