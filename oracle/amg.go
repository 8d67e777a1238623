package oracle

import (
	"context"

	"go.viam.com/maskprop/mask"
)

// Candidate is one object proposed by automatic mask generation.
type Candidate struct {
	Mask           *mask.Mask
	PredictedIoU   float64
	StabilityScore float64
}

// Area returns the number of foreground pixels of the candidate.
func (c Candidate) Area() int {
	if c.Mask == nil {
		return 0
	}
	return c.Mask.Foreground()
}

// GenerateParams are the thresholds applied when generating candidates.
type GenerateParams struct {
	PredIoUThresh        float64 `json:"pred_iou_thresh"`
	StabilityScoreThresh float64 `json:"stability_score_thresh"`
	BoxNMSThresh         float64 `json:"box_nms_thresh"`

	// Decoder based generators use these instead.
	CenterDistanceThresh   float64 `json:"center_distance_threshold"`
	BoundaryDistanceThresh float64 `json:"boundary_distance_threshold"`
	MinSize                int     `json:"min_size"`
}

// StateKind tells which kind of generator produced a State.
type StateKind string

const (
	// KindAMG is the state of a prompt-grid automatic mask generator.
	KindAMG StateKind = "amg"
	// KindDecoder is the state of a generator built on an instance segmentation decoder.
	KindDecoder StateKind = "decoder"
)

// State is the reusable, expensive part of automatic segmentation for one slice.
// Exactly one of Blob and Decoder is set, matching Kind.
type State struct {
	Kind StateKind
	// Blob is an opaque serialization owned by the generator.
	Blob []byte
	// Decoder holds the dense predictions of a decoder based generator.
	Decoder *DecoderOutput
}

// DecoderOutput holds the per-pixel predictions of an instance segmentation decoder.
type DecoderOutput struct {
	Height            int
	Width             int
	Foreground        []float32
	BoundaryDistances []float32
	CenterDistances   []float32
}

// Generator is an automatic mask generator. Initialize computes the state of a
// slice, SetState restores a previously computed one, Generate proposes
// candidates from the current state.
type Generator interface {
	ID() string
	Initialize(ctx context.Context, slice int) (State, error)
	SetState(state State) error
	Generate(ctx context.Context, params GenerateParams) ([]Candidate, error)
}
