package inject

import (
	"context"

	"go.viam.com/maskprop/oracle"
)

// Generator is an injected automatic mask generator.
type Generator struct {
	oracle.Generator
	IDFunc         func() string
	InitializeFunc func(ctx context.Context, slice int) (oracle.State, error)
	SetStateFunc   func(state oracle.State) error
	GenerateFunc   func(ctx context.Context, params oracle.GenerateParams) ([]oracle.Candidate, error)
}

// ID calls the injected ID or the real version.
func (g *Generator) ID() string {
	if g.IDFunc == nil {
		if g.Generator == nil {
			return "inject"
		}
		return g.Generator.ID()
	}
	return g.IDFunc()
}

// Initialize calls the injected Initialize or the real version.
func (g *Generator) Initialize(ctx context.Context, slice int) (oracle.State, error) {
	if g.InitializeFunc == nil {
		return g.Generator.Initialize(ctx, slice)
	}
	return g.InitializeFunc(ctx, slice)
}

// SetState calls the injected SetState or the real version.
func (g *Generator) SetState(state oracle.State) error {
	if g.SetStateFunc == nil {
		return g.Generator.SetState(state)
	}
	return g.SetStateFunc(state)
}

// Generate calls the injected Generate or the real version.
func (g *Generator) Generate(ctx context.Context, params oracle.GenerateParams) ([]oracle.Candidate, error) {
	if g.GenerateFunc == nil {
		return g.Generator.Generate(ctx, params)
	}
	return g.GenerateFunc(ctx, params)
}
