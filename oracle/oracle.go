// Package oracle defines the contract with the promptable segmentation backend.
// The backend itself (model weights, embeddings, devices) lives outside this module.
package oracle

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/prompt"
)

// Request is one prompt submission for one slice. At most one box and one mask are
// combined with the points; callers that need several objects issue several requests.
type Request struct {
	Points []image.Point
	Labels []prompt.Label
	Box    *image.Rectangle
	Mask   *mask.Mask
	// Multimask asks the backend for several candidate masks instead of one.
	Multimask bool
}

// IsEmpty reports whether the request carries no prompt.
func (r Request) IsEmpty() bool {
	return len(r.Points) == 0 && r.Box == nil && r.Mask == nil
}

// Response holds the candidate masks (binary, same size as the slice) and their
// backend-reported quality scores, best first or in backend order.
type Response struct {
	Masks  []*mask.Mask
	Scores []float64
}

// Best returns the highest scoring candidate.
func (r *Response) Best() (*mask.Mask, float64, bool) {
	if r == nil || len(r.Masks) == 0 {
		return nil, 0, false
	}
	best := 0
	for i := range r.Masks {
		if i < len(r.Scores) && r.Scores[i] > r.Scores[best] {
			best = i
		}
	}
	score := 0.0
	if best < len(r.Scores) {
		score = r.Scores[best]
	}
	return r.Masks[best], score, true
}

// Predictor segments a slice from prompts.
type Predictor interface {
	// ID identifies the model behind the predictor. Cached state computed by one
	// model is never reused with another.
	ID() string
	Predict(ctx context.Context, slice int, req Request) (*Response, error)
}

// Failure wraps an error raised by the backend (device errors, out of memory, ...).
// It is the only error kind of the core that is meant to reach the user.
type Failure struct {
	Slice int
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("segmentation backend failed on slice %d: %v", f.Slice, f.Err)
}

// Unwrap returns the backend error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps a backend error. Nil errors and existing failures are returned as is.
func NewFailure(slice int, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Slice: slice, Err: err}
}

// IsFailure reports whether err is or wraps a backend failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
