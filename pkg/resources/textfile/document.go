package textfile

import (
	"fmt"
	"strings"

	"github.com/openfroyo/converge/pkg/engine"
)

// Syntax selects how a file is parsed and edited.
type Syntax string

const (
	// SyntaxSSHD is sshd_config style: "Keyword value", case-insensitive
	// keywords, first occurrence wins, Match blocks end the global scope.
	SyntaxSSHD Syntax = "sshd"

	// SyntaxKV is "key = value" per line, last occurrence wins (sysctl.conf).
	SyntaxKV Syntax = "kv"

	// SyntaxINI is "key = value" inside [section] headers, addressed as
	// "section.key", last occurrence wins (fail2ban jail.local).
	SyntaxINI Syntax = "ini"
)

// Validate checks that the syntax is known.
func (s Syntax) Validate() error {
	switch s {
	case SyntaxSSHD, SyntaxKV, SyntaxINI:
		return nil
	default:
		return fmt.Errorf("invalid syntax: %s", s)
	}
}

type lineKind int

const (
	lineOther lineKind = iota
	lineEntry
	lineSection
	lineScope
)

type line struct {
	text string
	kind lineKind

	// key is the canonical key of an entry, or of the entry a commented
	// template line shows.
	key   string
	value string

	// section is the enclosing ini section.
	section string

	// scoped marks sshd entries inside a Match block.
	scoped bool

	// origin is the included file a line was read from; empty for the
	// managed file itself.
	origin string

	// cont holds ini continuation lines belonging to the entry, including
	// indented comments between them.
	cont []string
}

// document is a parsed file. Lines that are not entries are kept verbatim so
// that rendering an unmodified document reproduces the input.
type document struct {
	syntax Syntax
	lines  []line
}

func parse(syntax Syntax, content []byte) *document {
	doc := &document{syntax: syntax}
	text := string(content)
	if text == "" {
		return doc
	}
	rows := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	section := ""
	scoped := false
	for _, row := range rows {
		trimmed := strings.TrimSpace(row)
		l := line{text: row, section: section, scoped: scoped}

		switch syntax {
		case SyntaxSSHD:
			switch {
			case trimmed == "":
			case strings.HasPrefix(trimmed, "#"):
				if kw, _ := splitKeyword(strings.TrimLeft(trimmed, "#")); isKeyword(kw) {
					l.key = strings.ToLower(kw)
				}
			default:
				kw, value := splitKeyword(trimmed)
				if strings.EqualFold(kw, "match") {
					scoped = true
					l.kind = lineScope
					l.scoped = true
					break
				}
				l.kind = lineEntry
				l.key = strings.ToLower(kw)
				l.value = engine.CollapseSpace(value)
			}

		case SyntaxKV, SyntaxINI:
			switch {
			case trimmed == "":
			case isComment(row) && syntax == SyntaxINI && (row[0] == ' ' || row[0] == '\t') && len(doc.lines) > 0 && doc.lines[len(doc.lines)-1].kind == lineEntry:
				// An indented comment stays with the entry but is not part of
				// its value; continuation lines may follow it.
				prev := &doc.lines[len(doc.lines)-1]
				prev.cont = append(prev.cont, row)
				continue
			case isComment(row):
				if k, _, ok := strings.Cut(strings.TrimLeft(trimmed, "#; \t"), "="); ok && isKeyword(strings.TrimSpace(k)) {
					l.key = canonicalKey(syntax, qualify(section, k))
				}
			case syntax == SyntaxINI && (row[0] == ' ' || row[0] == '\t') && len(doc.lines) > 0 && doc.lines[len(doc.lines)-1].kind == lineEntry:
				prev := &doc.lines[len(doc.lines)-1]
				prev.cont = append(prev.cont, row)
				prev.value = engine.CollapseSpace(prev.value + " " + trimmed)
				continue
			case syntax == SyntaxINI && strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
				section = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
				l.kind = lineSection
				l.section = section
			default:
				k, v, ok := strings.Cut(trimmed, "=")
				if !ok {
					break
				}
				l.kind = lineEntry
				l.key = canonicalKey(syntax, qualify(section, k))
				l.value = engine.CollapseSpace(v)
			}
		}

		doc.lines = append(doc.lines, l)
	}
	return doc
}

func isComment(row string) bool {
	trimmed := strings.TrimSpace(row)
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";")
}

// comments returns the comment lines among an entry's continuation lines.
func comments(cont []string) []string {
	var out []string
	for _, c := range cont {
		if isComment(c) {
			out = append(out, c)
		}
	}
	return out
}

// splitKeyword splits an sshd line at the first run of whitespace or '='.
func splitKeyword(s string) (string, string) {
	i := strings.IndexAny(s, " \t=")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t=")
}

func isKeyword(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("._-/", r)) {
			return false
		}
	}
	return true
}

func qualify(section, key string) string {
	key = strings.TrimSpace(key)
	if section == "" {
		return key
	}
	return section + "." + key
}

// canonicalKey normalizes a directive or file key for the syntax.
func canonicalKey(syntax Syntax, key string) string {
	key = engine.CollapseSpace(key)
	switch syntax {
	case SyntaxSSHD:
		return strings.ToLower(key)
	case SyntaxINI:
		section, option, ok := strings.Cut(key, ".")
		if !ok {
			return strings.ToLower(key)
		}
		return strings.TrimSpace(section) + "." + strings.ToLower(strings.TrimSpace(option))
	default:
		return key
	}
}

// state returns the effective key/value pairs.
func (d *document) state() engine.State {
	state := engine.State{}
	for _, l := range d.lines {
		if l.kind != lineEntry || l.scoped {
			continue
		}
		if _, seen := state[l.key]; seen && d.syntax == SyntaxSSHD {
			continue
		}
		state[l.key] = l.value
	}
	return state
}

// effective returns the index of the line that determines key's value, or -1.
func (d *document) effective(key string) int {
	idx := -1
	for i, l := range d.lines {
		if l.kind != lineEntry || l.scoped || l.key != key {
			continue
		}
		if d.syntax == SyntaxSSHD {
			return i
		}
		idx = i
	}
	return idx
}

// set assigns value to key, rewriting the effective line in place or
// inserting a new entry.
func (d *document) set(rawKey, value string) {
	key := canonicalKey(d.syntax, rawKey)
	entry := line{
		text:  d.format(rawKey, value),
		kind:  lineEntry,
		key:   key,
		value: engine.CollapseSpace(value),
	}

	if idx := d.effective(key); idx >= 0 {
		entry.section = d.lines[idx].section
		entry.cont = comments(d.lines[idx].cont)
		d.lines[idx] = entry
		return
	}

	section := ""
	if d.syntax == SyntaxINI {
		if s, _, ok := strings.Cut(key, "."); ok {
			section = s
		}
	}
	entry.section = section
	d.insert(d.insertionPoint(key, section), entry)
}

// remove drops every effective occurrence of key.
func (d *document) remove(rawKey string) bool {
	key := canonicalKey(d.syntax, rawKey)
	kept := d.lines[:0]
	removed := false
	for _, l := range d.lines {
		if l.kind == lineEntry && !l.scoped && l.key == key {
			removed = true
			for _, c := range comments(l.cont) {
				kept = append(kept, line{text: c, section: l.section})
			}
			continue
		}
		kept = append(kept, l)
	}
	d.lines = kept
	return removed
}

func (d *document) format(rawKey, value string) string {
	value = engine.CollapseSpace(value)
	switch d.syntax {
	case SyntaxSSHD:
		return engine.CollapseSpace(rawKey) + " " + value
	case SyntaxINI:
		if _, option, ok := strings.Cut(rawKey, "."); ok {
			rawKey = option
		}
		return strings.TrimSpace(rawKey) + " = " + value
	default:
		return engine.CollapseSpace(rawKey) + " = " + value
	}
}

// insertionPoint picks where a new entry goes: right after a commented-out
// template for the same key, otherwise at the end of its scope. A return
// value of -1 means a new ini section must be appended.
func (d *document) insertionPoint(key, section string) int {
	for i, l := range d.lines {
		if l.kind == lineOther && l.key == key && !l.scoped && l.section == section {
			return i + 1
		}
	}

	switch d.syntax {
	case SyntaxSSHD:
		for i, l := range d.lines {
			if l.kind == lineScope {
				return i
			}
		}
	case SyntaxINI:
		if section == "" {
			for i, l := range d.lines {
				if l.kind == lineSection {
					return i
				}
			}
			return len(d.lines)
		}
		header := -1
		last := -1
		for i, l := range d.lines {
			if l.kind == lineSection && l.section == section && header < 0 {
				header = i
			}
			if header >= 0 && l.section == section && l.kind == lineEntry {
				last = i
			}
		}
		switch {
		case last >= 0:
			return last + 1
		case header >= 0:
			return header + 1
		default:
			return -1
		}
	}
	return len(d.lines)
}

func (d *document) insert(at int, entry line) {
	if at < 0 {
		if n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1].text) != "" {
			d.lines = append(d.lines, line{})
		}
		d.lines = append(d.lines, line{text: "[" + entry.section + "]", kind: lineSection, section: entry.section}, entry)
		return
	}
	d.lines = append(d.lines, line{})
	copy(d.lines[at+1:], d.lines[at:])
	d.lines[at] = entry
}

// render serializes the document. Non-empty output always ends with a newline.
func (d *document) render() []byte {
	var b strings.Builder
	for _, l := range d.lines {
		b.WriteString(l.text)
		b.WriteByte('\n')
		for _, c := range l.cont {
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}
