package inject

import (
	"context"

	"go.viam.com/maskprop/oracle"
)

// Predictor is an injected segmentation backend.
type Predictor struct {
	oracle.Predictor
	IDFunc      func() string
	PredictFunc func(ctx context.Context, slice int, req oracle.Request) (*oracle.Response, error)
}

// ID calls the injected ID or the real version.
func (p *Predictor) ID() string {
	if p.IDFunc == nil {
		if p.Predictor == nil {
			return "inject"
		}
		return p.Predictor.ID()
	}
	return p.IDFunc()
}

// Predict calls the injected Predict or the real version.
func (p *Predictor) Predict(ctx context.Context, slice int, req oracle.Request) (*oracle.Response, error) {
	if p.PredictFunc == nil {
		return p.Predictor.Predict(ctx, slice, req)
	}
	return p.PredictFunc(ctx, slice, req)
}
