package engine

import (
	"fmt"
	"time"
)

// Directive is a declarative assertion about one key of one resource.
// Directives are immutable values; the planner never modifies them.
type Directive struct {
	// Kind is the resource category (rule, file_block, job).
	Kind ResourceKind `json:"kind" yaml:"kind" validate:"required,oneof=rule file_block job"`

	// Resource names the adapter instance (e.g. "firewall", "sshd", "crontab").
	// Empty means the only configured instance of Kind.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// Key identifies the entry inside the resource. It is canonicalized by the adapter.
	Key string `json:"key" yaml:"key" validate:"required"`

	// Value is the desired value. Ignored for presence-only and removal directives.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Match selects exact-value or presence-only comparison.
	Match MatchMode `json:"match" yaml:"match" validate:"required,oneof=exact presence"`

	// Ensure is present for assertions and absent for removal intent.
	Ensure Ensure `json:"ensure" yaml:"ensure" validate:"required,oneof=present absent"`
}

// IsRemoval returns true if the directive asks for the key to be removed.
func (d Directive) IsRemoval() bool {
	return d.Ensure == EnsureAbsent
}

// String renders the directive for logs and prompts.
func (d Directive) String() string {
	if d.IsRemoval() {
		return fmt.Sprintf("%s/%s: absent %q", d.Kind, d.Resource, d.Key)
	}
	if d.Match == MatchPresence {
		return fmt.Sprintf("%s/%s: present %q", d.Kind, d.Resource, d.Key)
	}
	return fmt.Sprintf("%s/%s: %q = %q", d.Kind, d.Resource, d.Key, d.Value)
}

// DirectiveSet is an ordered collection of directives. Order is significant:
// the plan preserves it one-to-one.
type DirectiveSet struct {
	// Source describes where the set was loaded from (file path or "-").
	Source string `json:"source,omitempty"`

	// Directives is the ordered list of directives.
	Directives []Directive `json:"directives"`
}

// ResourceRef identifies a single resource instance known to the registry.
type ResourceRef struct {
	// Kind is the resource category.
	Kind ResourceKind `json:"kind"`

	// Name is the adapter instance name.
	Name string `json:"name"`

	// Location is a human-readable location (file path, "ufw", "crontab:root").
	Location string `json:"location,omitempty"`

	// AccessCritical marks resources whose misconfiguration can lock the operator out.
	AccessCritical bool `json:"access_critical,omitempty"`
}

// String returns "kind/name".
func (r ResourceRef) String() string {
	return string(r.Kind) + "/" + r.Name
}

// RawState is the unparsed listing returned by an adapter probe, or the raw
// bytes of a file-like resource.
type RawState struct {
	// Content is the raw listing or file content.
	Content []byte `json:"content"`

	// Exists is false when the resource is absent (missing file, empty crontab).
	Exists bool `json:"exists"`
}

// State is the canonical key -> normalized value mapping of a resource.
// Presence of a key means it is effective; values have whitespace collapsed.
type State map[string]string

// Lookup returns the normalized value for key and whether it is present.
func (s State) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Equal reports whether two states hold the same keys and values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ResourceSnapshot is a verbatim capture of a file-like resource taken before a
// mutating action. Snapshots are never deleted automatically.
type ResourceSnapshot struct {
	// ID is the unique snapshot identifier.
	ID string `json:"id"`

	// RunID is the run that captured the snapshot. Empty for manual captures.
	RunID string `json:"run_id,omitempty"`

	// Ref identifies the resource that was captured.
	Ref ResourceRef `json:"ref"`

	// Content is the raw content at capture time.
	Content []byte `json:"-"`

	// Existed is false when the resource did not exist at capture time.
	Existed bool `json:"existed"`

	// Checksum is the hex sha256 of Content.
	Checksum string `json:"checksum"`

	// Size is len(Content).
	Size int64 `json:"size"`

	// Path is where the snapshot content is persisted on disk.
	Path string `json:"path,omitempty"`

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time `json:"captured_at"`
}

// Raw returns the snapshot as adapter raw state, suitable for Restore.
func (s *ResourceSnapshot) Raw() RawState {
	return RawState{Content: s.Content, Exists: s.Existed}
}

// Action is the planner's decision for exactly one directive.
type Action struct {
	// Directive is the directive this action was derived from.
	Directive Directive `json:"directive"`

	// Kind is the chosen change.
	Kind ActionKind `json:"kind"`

	// Rationale is a short human-readable explanation.
	Rationale string `json:"rationale"`

	// Current is the normalized value observed at plan time (if Present).
	Current string `json:"current,omitempty"`

	// Present records whether the key was present at plan time.
	Present bool `json:"present"`

	// Unavailable is true when the resource could not be probed.
	Unavailable bool `json:"unavailable,omitempty"`
}

// PlanSummary counts actions by kind.
type PlanSummary struct {
	Total       int `json:"total"`
	Skip        int `json:"skip"`
	Add         int `json:"add"`
	Replace     int `json:"replace"`
	Remove      int `json:"remove"`
	Abort       int `json:"abort"`
	Unavailable int `json:"unavailable"`
}

// Plan is an ordered list of actions, one per directive, in directive order.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// Source is copied from the directive set.
	Source string `json:"source,omitempty"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Actions is the ordered action list.
	Actions []Action `json:"actions"`

	// Summary counts the actions by kind.
	Summary PlanSummary `json:"summary"`
}

// Equivalent reports whether two plans contain the same actions in the same
// order. ID and CreatedAt are metadata and do not participate.
func (p *Plan) Equivalent(other *Plan) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.Actions) != len(other.Actions) {
		return false
	}
	for i := range p.Actions {
		if p.Actions[i] != other.Actions[i] {
			return false
		}
	}
	return true
}

// HasChanges returns true if any action mutates a resource.
func (p *Plan) HasChanges() bool {
	for _, a := range p.Actions {
		if a.Kind.IsMutating() {
			return true
		}
	}
	return false
}

// AllSkip returns true if every action is a skip.
func (p *Plan) AllSkip() bool {
	for _, a := range p.Actions {
		if a.Kind != ActionSkip {
			return false
		}
	}
	return true
}

// Summarize recomputes the summary counters from the actions.
func (p *Plan) Summarize() {
	s := PlanSummary{Total: len(p.Actions)}
	for _, a := range p.Actions {
		switch a.Kind {
		case ActionSkip:
			s.Skip++
		case ActionAdd:
			s.Add++
		case ActionReplace:
			s.Replace++
		case ActionRemove:
			s.Remove++
		case ActionAbort:
			s.Abort++
		}
		if a.Unavailable {
			s.Unavailable++
		}
	}
	p.Summary = s
}

// Review records the confirmation gate's handling of one action.
type Review struct {
	// Index is the position of the action in the plan.
	Index int `json:"index"`

	// Risky is true when the classifier required confirmation.
	Risky bool `json:"risky"`

	// Reasons lists why the classifier considered the action risky.
	Reasons []string `json:"reasons,omitempty"`

	// Decision is the terminal gate state.
	Decision Decision `json:"decision"`
}

// AuditEntry is the append-only record of one executed action.
type AuditEntry struct {
	// ID is the unique entry identifier.
	ID string `json:"id"`

	// RunID groups the entries of one executor pass.
	RunID string `json:"run_id"`

	// Sequence is the position of the action in the plan.
	Sequence int `json:"sequence"`

	// Action is the action that was executed.
	Action Action `json:"action"`

	// Outcome is what happened.
	Outcome Outcome `json:"outcome"`

	// Detail carries error text or the observed value on a mismatch.
	Detail string `json:"detail,omitempty"`

	// SnapshotRef is the ID of the snapshot taken before the action, if any.
	SnapshotRef string `json:"snapshot_ref,omitempty"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Run describes one executor pass.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Source is the directive set source.
	Source string `json:"source,omitempty"`

	// Host is the target host ("local" or the SSH address).
	Host string `json:"host"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when execution ended.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunFilter narrows audit queries.
type RunFilter struct {
	// RunID restricts entries to one run.
	RunID string

	// Outcomes restricts entries to the given outcomes.
	Outcomes []Outcome

	// Limit caps the number of results (0 = unlimited).
	Limit int
}
