// Package firewall implements the rule resource on top of ufw.
//
// Canonical keys are the "To" column of "ufw status" (for example "22/tcp",
// "80" or "OpenSSH"), suffixed with " from <source>" when the rule is not
// open to Anywhere. Values are the lower-case action: allow, deny, reject or
// limit, optionally followed by "out" for outgoing rules. IPv6 duplicates of
// a rule are folded into the IPv4 entry.
package firewall

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transports"
)

// Config configures the firewall adapter.
type Config struct {
	// Name is the resource name used in directives.
	Name string

	// Binary is the ufw executable (default "ufw").
	Binary string

	// AccessKeys are the canonical keys of rules that keep the operator's
	// access path open (e.g. "22/tcp", "OpenSSH").
	AccessKeys []string

	// AccessCritical marks the resource for confirmation of destructive changes.
	AccessCritical bool
}

// Adapter is the ufw rule-table adapter.
type Adapter struct {
	cfg    Config
	runner transports.Runner
	logger zerolog.Logger
}

// New creates a firewall adapter.
func New(cfg Config, runner transports.Runner, logger zerolog.Logger) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "ufw"
	}
	if cfg.Name == "" {
		cfg.Name = "firewall"
	}
	return &Adapter{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("resource", cfg.Name).Logger(),
	}
}

// Ref implements engine.Adapter.
func (a *Adapter) Ref() engine.ResourceRef {
	return engine.ResourceRef{
		Kind:           engine.KindRule,
		Name:           a.cfg.Name,
		Location:       a.cfg.Binary,
		AccessCritical: a.cfg.AccessCritical,
	}
}

const inactiveMarker = "Status: inactive"

// Probe implements engine.Adapter. When the firewall is inactive the rules
// that would be loaded on enable are listed with "ufw show added".
func (a *Adapter) Probe(ctx context.Context) (engine.RawState, error) {
	res, err := a.run(ctx, "status")
	if err != nil {
		return engine.RawState{}, err
	}
	if !res.Success() {
		return engine.RawState{}, engine.NewUnavailableError("ufw status failed", errors.New(res.Output())).
			WithResource(a.cfg.Name).WithOperation("probe")
	}

	content := res.Stdout
	if strings.Contains(content, inactiveMarker) {
		added, err := a.run(ctx, "show", "added")
		if err != nil {
			return engine.RawState{}, err
		}
		if !added.Success() {
			return engine.RawState{}, engine.NewUnavailableError("ufw show added failed", errors.New(added.Output())).
				WithResource(a.cfg.Name).WithOperation("probe")
		}
		content += "\n" + added.Stdout
	}

	return engine.RawState{Content: []byte(content), Exists: true}, nil
}

var columnSplit = regexp.MustCompile(`\s{2,}`)

// Normalize implements engine.Adapter.
func (a *Adapter) Normalize(raw engine.RawState) (engine.State, error) {
	content := string(raw.Content)
	if strings.Contains(content, inactiveMarker) {
		return parseAdded(content)
	}
	return parseStatus(content)
}

// parseStatus parses the table printed by "ufw status".
func parseStatus(content string) (engine.State, error) {
	state := engine.State{}
	inTable := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "Status:"):
			continue
		case strings.HasPrefix(trimmed, "To ") && strings.Contains(trimmed, "Action"):
			continue
		case strings.HasPrefix(trimmed, "--"):
			inTable = true
			continue
		case !inTable:
			continue
		}

		cols := columnSplit.Split(trimmed, -1)
		if len(cols) < 2 {
			return nil, fmt.Errorf("unexpected ufw status line: %q", line)
		}
		to := stripV6(cols[0])
		action := canonicalAction(cols[1])
		from := "Anywhere"
		if len(cols) >= 3 {
			from = stripV6(cols[2])
		}

		key := ruleKey(to, from)
		if _, seen := state[key]; seen {
			continue
		}
		state[key] = action
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

// parseAdded parses "ufw show added" output ("ufw allow 22/tcp", ...).
func parseAdded(content string) (engine.State, error) {
	state := engine.State{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "ufw" {
			continue
		}
		fields = fields[1:]

		action := fields[0]
		if !isAction(action) {
			continue
		}
		rest := fields[1:]
		if len(rest) > 0 && (rest[0] == "in" || rest[0] == "out") {
			if rest[0] == "out" {
				action += " out"
			}
			rest = rest[1:]
		}

		key, err := keyFromSpec(rest)
		if err != nil {
			return nil, err
		}
		if _, seen := state[key]; !seen {
			state[key] = action
		}
	}
	return state, scanner.Err()
}

// keyFromSpec converts a ufw rule specification back into a canonical key.
func keyFromSpec(spec []string) (string, error) {
	if len(spec) == 0 {
		return "", fmt.Errorf("empty rule specification")
	}
	if spec[0] != "from" && spec[0] != "to" {
		return engine.CollapseSpace(strings.Join(spec, " ")), nil
	}

	from, port, proto, app := "Anywhere", "", "", ""
	to := "Anywhere"
	for i := 0; i+1 < len(spec); i += 2 {
		switch spec[i] {
		case "from":
			if spec[i+1] != "any" {
				from = spec[i+1]
			}
		case "to":
			if spec[i+1] != "any" {
				to = spec[i+1]
			}
		case "port":
			port = spec[i+1]
		case "proto":
			proto = spec[i+1]
		case "app":
			app = spec[i+1]
		default:
			return "", fmt.Errorf("unsupported rule specification %q", strings.Join(spec, " "))
		}
	}

	switch {
	case app != "":
		to = app
	case port != "" && proto != "":
		to = port + "/" + proto
	case port != "":
		to = port
	}
	return ruleKey(to, from), nil
}

func stripV6(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "(v6)"))
}

func ruleKey(to, from string) string {
	to = engine.CollapseSpace(to)
	from = engine.CollapseSpace(from)
	if from == "" || from == "Anywhere" {
		return to
	}
	return to + " from " + from
}

func isAction(s string) bool {
	switch s {
	case "allow", "deny", "reject", "limit":
		return true
	}
	return false
}

// canonicalAction lower-cases an action and drops the default "in" direction.
func canonicalAction(s string) string {
	s = strings.ToLower(engine.CollapseSpace(s))
	s = strings.TrimSuffix(s, " in")
	return s
}

// CanonicalKey implements engine.Adapter.
func (a *Adapter) CanonicalKey(key string) string {
	to, from, ok := strings.Cut(engine.CollapseSpace(key), " from ")
	if !ok {
		return ruleKey(to, "")
	}
	return ruleKey(to, from)
}

// CanonicalValue implements engine.ValueCanonicalizer.
func (a *Adapter) CanonicalValue(value string) string {
	return canonicalAction(value)
}

// Apply implements engine.Adapter. Replace deletes the current rule before
// adding the new one so the table never holds both; when the add fails the
// deleted rule is added back.
func (a *Adapter) Apply(ctx context.Context, action engine.Action) error {
	key := a.CanonicalKey(action.Directive.Key)
	spec, err := ruleSpec(key)
	if err != nil {
		return engine.NewApplyRejectedError("invalid rule key", err).WithResource(a.cfg.Name)
	}

	switch action.Kind {
	case engine.ActionAdd:
		return a.mutate(ctx, "add", append(strings.Fields(a.CanonicalValue(action.Directive.Value)), spec...))
	case engine.ActionRemove:
		return a.mutate(ctx, "delete", append(append([]string{"delete"}, strings.Fields(action.Current)...), spec...))
	case engine.ActionReplace:
		if err := a.mutate(ctx, "delete", append(append([]string{"delete"}, strings.Fields(action.Current)...), spec...)); err != nil {
			return err
		}
		addErr := a.mutate(ctx, "add", append(strings.Fields(a.CanonicalValue(action.Directive.Value)), spec...))
		if addErr == nil {
			return nil
		}
		if err := a.mutate(ctx, "restore", append(strings.Fields(action.Current), spec...)); err != nil {
			a.logger.Error().Err(err).Str("rule", key).Str("action", action.Current).Msg("Failed to put back replaced rule")
			return engine.NewApplyRejectedError("ufw add rejected and previous rule not restored", errors.Join(addErr, err)).
				WithResource(a.cfg.Name).
				WithCode(engine.ErrCodeRestoreFailed).
				WithDetail("rule", key)
		}
		return addErr
	default:
		return engine.NewApplyRejectedError(fmt.Sprintf("unsupported action %s", action.Kind), nil).WithResource(a.cfg.Name)
	}
}

// ruleSpec converts a canonical key into ufw rule arguments.
func ruleSpec(key string) ([]string, error) {
	to, from, hasFrom := strings.Cut(key, " from ")
	if to == "" {
		return nil, fmt.Errorf("empty rule key")
	}
	if !hasFrom {
		return []string{to}, nil
	}

	spec := []string{"from", from}
	switch {
	case to == "Anywhere":
	case strings.Contains(to, "/"):
		port, proto, _ := strings.Cut(to, "/")
		spec = append(spec, "to", "any", "port", port, "proto", proto)
	case isPort(to):
		spec = append(spec, "to", "any", "port", to)
	default:
		spec = append(spec, "to", "any", "app", to)
	}
	return spec, nil
}

func isPort(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != ':' && r != ',' {
			return false
		}
	}
	return s != ""
}

func (a *Adapter) mutate(ctx context.Context, op string, args []string) error {
	res, err := a.run(ctx, args...)
	if err != nil {
		return err
	}
	out := res.Output()
	if !res.Success() || strings.HasPrefix(out, "ERROR") {
		return engine.NewApplyRejectedError("ufw "+op+" rejected", errors.New(out)).
			WithResource(a.cfg.Name).
			WithOperation("apply").
			WithDetail("args", strings.Join(args, " "))
	}
	a.logger.Info().Str("op", op).Strs("args", args).Str("output", out).Msg("Firewall rule changed")
	return nil
}

func (a *Adapter) run(ctx context.Context, args ...string) (transports.Result, error) {
	res, err := a.runner.Run(ctx, transports.Command{Name: a.cfg.Binary, Args: args})
	if err != nil {
		return res, engine.NewUnavailableError("ufw unavailable", err).WithResource(a.cfg.Name)
	}
	return res, nil
}

// Precondition implements engine.Guard: a directive may not remove, or
// replace with a non-allowing action, the last allowing access rule.
func (a *Adapter) Precondition(state engine.State, d engine.Directive) (string, bool) {
	if len(a.cfg.AccessKeys) == 0 {
		return "", false
	}

	key := a.CanonicalKey(d.Key)
	if !a.isAccessKey(key) {
		return "", false
	}
	current, present := state[key]
	if !present || !allows(current) {
		return "", false
	}
	if !d.IsRemoval() && (d.Match == engine.MatchPresence || allows(a.CanonicalValue(d.Value))) {
		return "", false
	}

	for _, other := range a.cfg.AccessKeys {
		other = a.CanonicalKey(other)
		if other == key {
			continue
		}
		if v, ok := state[other]; ok && allows(v) {
			return "", false
		}
	}
	return "would remove last access path", true
}

func (a *Adapter) isAccessKey(key string) bool {
	for _, k := range a.cfg.AccessKeys {
		if a.CanonicalKey(k) == key {
			return true
		}
	}
	return false
}

func allows(action string) bool {
	return action == "allow" || action == "limit"
}

var (
	_ engine.Adapter            = (*Adapter)(nil)
	_ engine.Guard              = (*Adapter)(nil)
	_ engine.ValueCanonicalizer = (*Adapter)(nil)
)
