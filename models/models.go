// Package models defines the request/response contract and wire-visible
// error taxonomy shared by the adapter registry, scheduler, and orchestrator.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders requests for human-facing diagnostics; it does not by
// itself change admission outcomes (the scheduler is priority-blind at the
// budget level — see internal/scheduler).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Precision is the axis the scheduler's downgrade path reasons about. It is
// distinct from the quantisation label an adapter declares support for;
// PrecisionToQuantisationLabels bridges the two at the adapter boundary.
type Precision int

const (
	PrecisionF32 Precision = iota
	PrecisionF16
	PrecisionQ8
	PrecisionQ4
)

func (p Precision) String() string {
	switch p {
	case PrecisionF32:
		return "f32"
	case PrecisionF16:
		return "f16"
	case PrecisionQ8:
		return "q8"
	case PrecisionQ4:
		return "q4"
	default:
		return "unknown"
	}
}

// Downgrade returns the next lower precision in the F32->F16->Q8->Q4 path
// and true, or p itself and false once Q4 is reached.
func (p Precision) Downgrade() (Precision, bool) {
	switch p {
	case PrecisionF32:
		return PrecisionF16, true
	case PrecisionF16:
		return PrecisionQ8, true
	case PrecisionQ8:
		return PrecisionQ4, true
	default:
		return p, false
	}
}

// PrecisionToQuantisationLabels maps a Precision to the opaque quantisation
// labels adapters may declare as compatible with it. Adapter resolution
// does not consult this table: it matches ModelConfig.RequiredQuantisation
// against a descriptor's labels exactly.
var PrecisionToQuantisationLabels = map[Precision][]string{
	PrecisionF32: {"f32", "fp32"},
	PrecisionF16: {"f16", "fp16"},
	PrecisionQ8:  {"q8_0", "q8"},
	PrecisionQ4:  {"q4_0", "q4_k_m", "q4"},
}

// Modality enumerates the operational modes a backend may support.
type Modality int

const (
	ModalityTextGeneration Modality = iota
	ModalityVisionLanguage
	ModalitySpeechToText
	ModalityTextToSpeech
	ModalityEmbedding
)

func (m Modality) String() string {
	switch m {
	case ModalityTextGeneration:
		return "text-generation"
	case ModalityVisionLanguage:
		return "vision-language"
	case ModalitySpeechToText:
		return "speech-to-text"
	case ModalityTextToSpeech:
		return "text-to-speech"
	case ModalityEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// ModalityUnknown is returned by ParseModality when label matches nothing
// recognised; it deliberately falls outside the valid enum range so hard
// constraint filtering rejects it rather than silently matching
// ModalityTextGeneration's zero value.
const ModalityUnknown Modality = -1

// ParseModality maps a manifest-file label to a Modality, accepting both
// the canonical String() form and the short aliases operators tend to
// write by hand in YAML.
func ParseModality(label string) Modality {
	switch strings.ToLower(label) {
	case "text", "text-generation", "textgeneration":
		return ModalityTextGeneration
	case "vision", "vision-language", "visionlanguage", "vlm":
		return ModalityVisionLanguage
	case "speech-to-text", "speechtotext", "stt":
		return ModalitySpeechToText
	case "text-to-speech", "texttospeech", "tts":
		return ModalityTextToSpeech
	case "embedding", "embed":
		return ModalityEmbedding
	default:
		return ModalityUnknown
	}
}

// Format enumerates the model weight formats a backend may load.
type Format int

const (
	FormatGGUF Format = iota
	FormatSafetensors
	FormatPyTorchCheckpoint
	FormatCoreML
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatGGUF:
		return "gguf"
	case FormatSafetensors:
		return "safetensors"
	case FormatPyTorchCheckpoint:
		return "pytorch"
	case FormatCoreML:
		return "coreml"
	case FormatONNX:
		return "onnx"
	default:
		return "unknown"
	}
}

// FormatUnknown is returned by ParseFormat for an unrecognised label, for
// the same reason ModalityUnknown exists: an unmatched manifest entry must
// fail hard-constraint filtering, not alias to FormatGGUF's zero value.
const FormatUnknown Format = -1

// ParseFormat maps a manifest-file label to a Format.
func ParseFormat(label string) Format {
	switch strings.ToLower(label) {
	case "gguf":
		return FormatGGUF
	case "safetensors":
		return FormatSafetensors
	case "pytorch", "pytorchcheckpoint", "pt":
		return FormatPyTorchCheckpoint
	case "coreml":
		return FormatCoreML
	case "onnx":
		return FormatONNX
	default:
		return FormatUnknown
	}
}

// Health is the declared or probed state of a backend.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// GPUType enumerates the GPU acceleration kinds the hardware detector
// recognises.
type GPUType int

const (
	GPUNone GPUType = iota
	GPUMetal
	GPUCuda
	GPURocm
	GPUIntel
)

func (g GPUType) String() string {
	switch g {
	case GPUMetal:
		return "metal"
	case GPUCuda:
		return "cuda"
	case GPURocm:
		return "rocm"
	case GPUIntel:
		return "intel"
	default:
		return "none"
	}
}

// ParseGPUType maps a manifest-file label to a GPUType. An unrecognised
// label maps to GPUNone rather than a sentinel: a descriptor that requires
// an unknown GPU kind is equivalent to one that requires no specific kind
// beyond GPU presence, which hardReject still enforces via RequiresGPU.
func ParseGPUType(label string) GPUType {
	switch strings.ToLower(label) {
	case "metal":
		return GPUMetal
	case "cuda":
		return GPUCuda
	case "rocm":
		return GPURocm
	case "intel":
		return GPUIntel
	default:
		return GPUNone
	}
}

// HardwareProfile describes the host the orchestrator is running on. It is
// produced once at startup by the hardware detector collaborator (see
// internal/hardware) and consulted by adapter resolution.
type HardwareProfile struct {
	OS                  string
	CPUFamily           string
	GPUAvailable        bool
	GPUType             GPUType
	TotalMemoryBytes    uint64
	AvailableMemoryBytes uint64
}

// ModelConfig is the per-request capability requirement built by the
// orchestrator from a Request and consulted by the adapter registry's
// resolve operation.
type ModelConfig struct {
	ModelID           string
	Modality          Modality
	Format            Format
	RequiredQuantisation string // optional; empty means unconstrained
	RequiredMemoryMB  uint64
	MinPriority       int // optional soft constraint; 0 means unconstrained
}

// Request is the caller-facing unit of work submitted to the orchestrator.
type Request struct {
	ID                 string
	ModelID            string
	Prompt             []byte
	RequiredMemoryMB   uint64
	Priority           Priority
	PreferredPrecision Precision
	Deadline           time.Time
}

// WithID returns a copy of the request with an id assigned if it was empty.
func (r Request) WithID() Request {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r
}

// BackendKind distinguishes where a request was routed.
type BackendKind int

const (
	BackendLocal BackendKind = iota
	BackendCloud
	BackendRejected
)

// RoutedBackend is the tagged union describing where a Result was served
// from, or why it was not served at all.
type RoutedBackend struct {
	Kind     BackendKind
	ModelID  string // set when Kind == BackendLocal
	Provider string // set when Kind == BackendCloud
	Reason   string // set when Kind == BackendRejected
}

func Local(modelID string) RoutedBackend  { return RoutedBackend{Kind: BackendLocal, ModelID: modelID} }
func Cloud(provider string) RoutedBackend { return RoutedBackend{Kind: BackendCloud, Provider: provider} }
func Rejected(reason string) RoutedBackend {
	return RoutedBackend{Kind: BackendRejected, Reason: reason}
}

// Result is returned by the orchestrator for every submitted Request.
type Result struct {
	RequestID      string
	Output         []byte
	RoutedTo       RoutedBackend
	ActualPrecision Precision
}

// Wire-visible error taxonomy (spec §6.3). These are sentinels; callers
// match with errors.Is. Structured detail travels alongside them in
// *InvalidRequestError and *adapter.ResolutionError rather than in the
// sentinel itself.
var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrQueueFull          = errors.New("deferred queue full")
	ErrDeferredExpired    = errors.New("deferred entry expired")
	ErrDeadline           = errors.New("deadline exceeded")
	ErrNoCompatibleAdapter = errors.New("no compatible adapter")
	ErrAllBackendsExhausted = errors.New("all backends exhausted")
	ErrBackendUnhealthy   = errors.New("backend unhealthy")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrDuplicateBackend and ErrBackendNotFound are registry-level errors
	// (spec §3.2, §4.4), not part of the wire taxonomy but surfaced the
	// same way: a sentinel wrapped with context.
	ErrDuplicateBackend = errors.New("duplicate backend id")
	ErrBackendNotFound  = errors.New("backend not found")
)

// DecisionSnapshot captures the budget state an admission decision was made
// against (spec §3.1 Admission Decision, §8.2 round-trip property).
type DecisionSnapshot struct {
	CurrentUsageMB uint64
	RequiredMB     uint64
	AvailableMB    uint64
}

// Validate reports ErrInvalidRequest wrapped with the offending field when
// a Request cannot be admitted to the pipeline at all (distinct from a
// capacity-driven Reject, which is a flow-control outcome, not an error).
func (r Request) Validate() error {
	if r.ModelID == "" {
		return &InvalidRequestError{Field: "model_id", Reason: "must not be empty"}
	}
	if r.RequiredMemoryMB == 0 {
		return &InvalidRequestError{Field: "required_memory_mb", Reason: "must be greater than zero"}
	}
	return nil
}

// InvalidRequestError wraps ErrInvalidRequest with the offending field,
// mirroring the teacher's CrawlError{URL, Stage, Err} wrapping shape.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Field + " " + e.Reason
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }
