// Package scaffold synthesizes capability descriptors from plain
// descriptions. It owns everything the registry deliberately does not:
// naming, stub generation from per-type templates, and structural
// validation of the generated code. The output is a descriptor ready for
// registration; nothing here ever executes the code it produces.
package scaffold

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scrivenerlabs/scrivener/capability"
)

// Request describes the capability to synthesize.
type Request struct {
	// Name is the capability name. Generated from Description when empty.
	Name string

	// Description says what the capability should do. Required.
	Description string

	// Type selects the stub template. Unknown types get the default template.
	Type capability.Type

	// Parameters lists parameter names for the generated function signature.
	Parameters []string

	// Dependencies lists capability names the new one references.
	Dependencies []string

	// Hints carries free-form generation hints into the metadata.
	Hints map[string]any
}

// Factory builds capability descriptors from requests.
type Factory struct {
	validator *Validator
	logger    *slog.Logger
}

// NewFactory creates a capability factory.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		validator: NewValidator(),
		logger:    logger,
	}
}

// Build synthesizes a descriptor for the request. The taken func reports
// whether a name is already in use (nil means nothing is taken); it drives
// name generation, not registration, so a racing registration can still
// surface ErrDuplicate later. The generated stub is validated before the
// descriptor is returned.
func (f *Factory) Build(ctx context.Context, req Request, taken func(string) bool) (*capability.Descriptor, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("%w: empty description", capability.ErrInvalid)
	}

	name := req.Name
	if name == "" {
		name = GenerateName(req.Description, taken)
	}

	code, err := renderStub(req.Type, name, req.Description, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("render stub for %q: %w", name, err)
	}

	if err := f.validator.Validate(ctx, name, code); err != nil {
		return nil, fmt.Errorf("generated stub for %q: %w", name, err)
	}

	meta := map[string]any{
		"parameters":   append([]string(nil), req.Parameters...),
		"generated_by": "scaffold",
	}
	for k, v := range req.Hints {
		meta[k] = v
	}

	f.logger.Debug("synthesized capability stub",
		"name", name,
		"type", req.Type.String(),
		"parameters", len(req.Parameters))

	return &capability.Descriptor{
		Name:           name,
		Description:    req.Description,
		Type:           req.Type,
		Implementation: code,
		Stage:          capability.StageConception,
		Version:        1,
		Dependencies:   append([]string(nil), req.Dependencies...),
		Metadata:       meta,
	}, nil
}
