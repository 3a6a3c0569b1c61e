package policy

import (
	"github.com/openfroyo/converge/pkg/engine"
)

// Policy is one Rego module. Modules extend the converge.risk package by
// adding rules to its "reasons" set.
type Policy struct {
	// Name is the module name (file name without .rego for loaded policies).
	Name string `json:"name"`

	// Description is the leading comment block of the module.
	Description string `json:"description,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Source is the file the policy was loaded from. Empty for built-ins.
	Source string `json:"source,omitempty"`

	// Builtin marks policies shipped with converge.
	Builtin bool `json:"builtin"`
}

// Input is the document exposed to policies as "input".
type Input struct {
	Resource ResourceInput `json:"resource"`
	Action   ActionInput   `json:"action"`
}

// ResourceInput describes the resource an action targets.
type ResourceInput struct {
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	Location       string `json:"location"`
	AccessCritical bool   `json:"access_critical"`
}

// ActionInput describes the planned action.
type ActionInput struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Current string `json:"current"`
	Present bool   `json:"present"`
	Ensure  string `json:"ensure"`
	Match   string `json:"match"`
}

// NewInput builds the policy input for one action.
func NewInput(ref engine.ResourceRef, action engine.Action) Input {
	return Input{
		Resource: ResourceInput{
			Kind:           string(ref.Kind),
			Name:           ref.Name,
			Location:       ref.Location,
			AccessCritical: ref.AccessCritical,
		},
		Action: ActionInput{
			Kind:    string(action.Kind),
			Key:     action.Directive.Key,
			Value:   action.Directive.Value,
			Current: action.Current,
			Present: action.Present,
			Ensure:  string(action.Directive.Ensure),
			Match:   string(action.Directive.Match),
		},
	}
}
