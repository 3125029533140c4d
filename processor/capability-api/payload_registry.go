package capabilityapi

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "capability",
		Category:    "outcome",
		Version:     "v1",
		Description: "Outcome report after a capability call",
		Factory:     func() any { return &OutcomePayload{} },
	}); err != nil {
		panic("failed to register OutcomePayload: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "capability",
		Category:    "evolve",
		Version:     "v1",
		Description: "Command to evolve a capability to a new version",
		Factory:     func() any { return &EvolvePayload{} },
	}); err != nil {
		panic("failed to register EvolvePayload: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "capability",
		Category:    "event",
		Version:     "v1",
		Description: "Registry event after an applied or rejected command",
		Factory:     func() any { return &EventPayload{} },
	}); err != nil {
		panic("failed to register EventPayload: " + err.Error())
	}
}
