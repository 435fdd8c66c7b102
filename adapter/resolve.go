package adapter

import (
	"sort"

	"ioac/models"
)

// Match is a single candidate surviving hard-constraint filtering, carrying
// enough of the descriptor for the orchestrator to dispatch.
type Match struct {
	Descriptor CapabilityDescriptor
}

// Resolve applies hard constraints (modality, format, quantisation,
// hardware, memory) then scores survivors by priority descending with a
// lexicographic-id tie-break, returning the ordered candidate list (spec
// §4.4). If no descriptor survives, it returns a *ResolutionError carrying
// the per-rejected-descriptor reason for diagnostics.
func (r *Registry) Resolve(cfg models.ModelConfig, hw models.HardwareProfile) ([]Match, error) {
	descriptors := r.snapshot()
	rejections := make(map[string]RejectionReason, len(descriptors))
	survivors := make([]CapabilityDescriptor, 0, len(descriptors))

	for _, d := range descriptors {
		if reason, ok := hardReject(d, cfg, hw); ok {
			rejections[d.ID] = reason
			continue
		}
		survivors = append(survivors, d)
	}

	if len(survivors) == 0 {
		return nil, &ResolutionError{Rejections: rejections}
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Priority != survivors[j].Priority {
			return survivors[i].Priority > survivors[j].Priority
		}
		return survivors[i].ID < survivors[j].ID
	})

	matches := make([]Match, len(survivors))
	for i, d := range survivors {
		matches[i] = Match{Descriptor: d}
	}
	return matches, nil
}

// hardReject evaluates steps 1-5 of the resolution algorithm in order,
// returning the first reason the descriptor fails on, if any.
func hardReject(d CapabilityDescriptor, cfg models.ModelConfig, hw models.HardwareProfile) (RejectionReason, bool) {
	if !d.supportsModality(cfg.Modality) {
		return RejectionReason{
			Kind:            RejectionModalityMismatch,
			RequiredLabel:   cfg.Modality.String(),
			SupportedLabels: d.modalityLabels(),
		}, true
	}

	if !d.supportsFormat(cfg.Format) {
		return RejectionReason{
			Kind:            RejectionFormatMismatch,
			RequiredLabel:   cfg.Format.String(),
			SupportedLabels: d.formatLabels(),
		}, true
	}

	if cfg.RequiredQuantisation != "" && !d.supportsQuantisation(cfg.RequiredQuantisation) {
		return RejectionReason{
			Kind:            RejectionQuantizationMismatch,
			RequiredLabel:   cfg.RequiredQuantisation,
			SupportedLabels: d.quantisationLabels(),
		}, true
	}

	if d.RequiresGPU {
		if !hw.GPUAvailable {
			return RejectionReason{
				Kind:       RejectionHardwareConstraint,
				Constraint: "gpu",
				Reason:     "no GPU available on host",
			}, true
		}
		if d.RequiredGPUType != models.GPUNone && hw.GPUType != d.RequiredGPUType {
			return RejectionReason{
				Kind:       RejectionHardwareConstraint,
				Constraint: "gpu_type",
				Reason:     "host has " + hw.GPUType.String() + ", backend requires " + d.RequiredGPUType.String(),
			}, true
		}
	}

	if d.MinMemoryMB > 0 {
		availableMB := hw.AvailableMemoryBytes / (1024 * 1024)
		if availableMB < d.MinMemoryMB {
			return RejectionReason{
				Kind:        RejectionMemoryInsufficient,
				RequiredMB:  d.MinMemoryMB,
				AvailableMB: availableMB,
			}, true
		}
	}

	return RejectionReason{}, false
}
