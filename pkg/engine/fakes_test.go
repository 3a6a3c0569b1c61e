package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type kv struct {
	key   string
	value string
}

// fakeAdapter is an in-memory resource whose backend, like the real tools,
// happily appends duplicate entries.
type fakeAdapter struct {
	ref      ResourceRef
	entries  []kv
	probeErr error
	applyErr error
	// ignoreApply makes Apply succeed without changing anything.
	ignoreApply bool

	probes  int
	applies int
}

func newFakeAdapter(name string, kind ResourceKind, entries ...kv) *fakeAdapter {
	return &fakeAdapter{
		ref:     ResourceRef{Kind: kind, Name: name},
		entries: entries,
	}
}

func (f *fakeAdapter) Ref() ResourceRef { return f.ref }

func (f *fakeAdapter) Probe(context.Context) (RawState, error) {
	f.probes++
	if f.probeErr != nil {
		return RawState{}, f.probeErr
	}
	return RawState{Content: []byte(f.render()), Exists: len(f.entries) > 0}, nil
}

func (f *fakeAdapter) Normalize(raw RawState) (State, error) {
	state := State{}
	for _, line := range strings.Split(string(raw.Content), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if _, seen := state[k]; !seen {
			state[k] = CollapseSpace(v)
		}
	}
	return state, nil
}

func (f *fakeAdapter) CanonicalKey(key string) string { return strings.TrimSpace(key) }

func (f *fakeAdapter) Apply(_ context.Context, action Action) error {
	f.applies++
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.ignoreApply {
		return nil
	}
	key := f.CanonicalKey(action.Directive.Key)
	switch action.Kind {
	case ActionAdd:
		f.entries = append(f.entries, kv{key, action.Directive.Value})
	case ActionReplace:
		for i := range f.entries {
			if f.entries[i].key == key {
				f.entries[i].value = action.Directive.Value
			}
		}
	case ActionRemove:
		kept := f.entries[:0]
		for _, e := range f.entries {
			if e.key != key {
				kept = append(kept, e)
			}
		}
		f.entries = kept
	default:
		return fmt.Errorf("unexpected action %s", action.Kind)
	}
	return nil
}

func (f *fakeAdapter) count(key string) int {
	n := 0
	for _, e := range f.entries {
		if e.key == key {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) render() string {
	var b strings.Builder
	for _, e := range f.entries {
		b.WriteString(e.key + "=" + e.value + "\n")
	}
	return b.String()
}

// fakeFileAdapter adds validation and snapshot support.
type fakeFileAdapter struct {
	*fakeAdapter
	validateErr error
	restores    int
}

func (f *fakeFileAdapter) Validate(context.Context) error { return f.validateErr }

func (f *fakeFileAdapter) Snapshot(context.Context) (RawState, error) {
	return RawState{Content: []byte(f.render()), Exists: len(f.entries) > 0}, nil
}

func (f *fakeFileAdapter) Restore(_ context.Context, raw RawState) error {
	f.restores++
	f.entries = nil
	for _, line := range strings.Split(string(raw.Content), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			f.entries = append(f.entries, kv{k, v})
		}
	}
	return nil
}

// fakeGuardAdapter refuses to drop the last "allow" entry.
type fakeGuardAdapter struct {
	*fakeAdapter
}

func (f *fakeGuardAdapter) Precondition(state State, d Directive) (string, bool) {
	allowing := 0
	for _, v := range state {
		if v == "allow" {
			allowing++
		}
	}
	key := f.CanonicalKey(d.Key)
	if cur, ok := state[key]; ok && cur == "allow" && allowing == 1 && (d.IsRemoval() || d.Value != "allow") {
		return "would remove last access path", true
	}
	return "", false
}

type fakeRegistry struct {
	order    []Adapter
	adapters map[string]Adapter
}

func newFakeRegistry(adapters ...Adapter) *fakeRegistry {
	r := &fakeRegistry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.order = append(r.order, a)
		r.adapters[a.Ref().Name] = a
	}
	return r
}

func (r *fakeRegistry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *fakeRegistry) Resolve(d Directive) (Adapter, error) {
	a, ok := r.adapters[d.Resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", d.Resource)
	}
	return a, nil
}

func (r *fakeRegistry) Adapters() []Adapter { return r.order }

type fakeAudit struct {
	runs      map[string]RunStatus
	entries   []*AuditEntry
	appendErr error
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{runs: make(map[string]RunStatus)}
}

func (a *fakeAudit) BeginRun(_ context.Context, run *Run) error {
	a.runs[run.ID] = run.Status
	return nil
}

func (a *fakeAudit) Append(_ context.Context, entry *AuditEntry) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) FinishRun(_ context.Context, runID string, status RunStatus) error {
	if _, ok := a.runs[runID]; !ok {
		return errors.New("unknown run")
	}
	a.runs[runID] = status
	return nil
}

func (a *fakeAudit) Entries(context.Context, RunFilter) ([]*AuditEntry, error) {
	return a.entries, nil
}

type fakeSnapshots struct {
	saved []*ResourceSnapshot
	err   error
}

func (s *fakeSnapshots) SaveSnapshot(_ context.Context, snap *ResourceSnapshot) error {
	if s.err != nil {
		return s.err
	}
	snap.ID = fmt.Sprintf("snap-%d", len(s.saved)+1)
	s.saved = append(s.saved, snap)
	return nil
}

func (s *fakeSnapshots) GetSnapshot(_ context.Context, id string) (*ResourceSnapshot, error) {
	for _, snap := range s.saved {
		if snap.ID == id {
			return snap, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *fakeSnapshots) ListSnapshots(context.Context, string, int) ([]*ResourceSnapshot, error) {
	return s.saved, nil
}

type funcApprover func(ResourceRef, Action) (bool, error)

func (f funcApprover) Approve(_ context.Context, ref ResourceRef, action Action, _ []string) (bool, error) {
	return f(ref, action)
}

type funcClassifier func(ResourceRef, Action) (bool, []string, error)

func (f funcClassifier) Classify(_ context.Context, ref ResourceRef, action Action) (bool, []string, error) {
	return f(ref, action)
}

func rule(key, value string) Directive {
	return Directive{Kind: KindRule, Resource: "firewall", Key: key, Value: value, Match: MatchExact, Ensure: EnsurePresent}
}

func fileKey(key, value string) Directive {
	return Directive{Kind: KindFileBlock, Resource: "sshd", Key: key, Value: value, Match: MatchExact, Ensure: EnsurePresent}
}

func absent(d Directive) Directive {
	d.Ensure = EnsureAbsent
	d.Value = ""
	return d
}
