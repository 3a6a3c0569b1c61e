package textfile

import (
	"context"
	"fmt"
	"path"
	"strings"
)

const maxIncludeDepth = 8

// expand parses an sshd_config and splices the files named by its Include
// lines in after each Include, in the order sshd reads them. Relative
// patterns are resolved against the directory of the managed file.
func (a *Adapter) expand(ctx context.Context, content []byte) (*document, error) {
	return a.expandDocument(ctx, parse(SyntaxSSHD, content), 0)
}

func (a *Adapter) expandDocument(ctx context.Context, doc *document, depth int) (*document, error) {
	out := &document{syntax: doc.syntax, lines: make([]line, 0, len(doc.lines))}

	for _, l := range doc.lines {
		out.lines = append(out.lines, l)
		if l.kind != lineEntry || l.key != "include" {
			continue
		}
		if depth >= maxIncludeDepth {
			return nil, fmt.Errorf("include nesting deeper than %d levels", maxIncludeDepth)
		}

		for _, pattern := range strings.Fields(l.value) {
			if !path.IsAbs(pattern) {
				pattern = path.Join(path.Dir(a.cfg.Path), pattern)
			}
			matches, err := a.fs.Glob(ctx, pattern)
			if err != nil {
				return nil, fmt.Errorf("include %s: %w", pattern, err)
			}

			for _, match := range matches {
				data, err := a.fs.ReadFile(ctx, match)
				if err != nil {
					return nil, fmt.Errorf("include %s: %w", match, err)
				}
				sub, err := a.expandDocument(ctx, parse(SyntaxSSHD, data), depth+1)
				if err != nil {
					return nil, err
				}
				for _, il := range sub.lines {
					if il.origin == "" {
						il.origin = match
					}
					il.scoped = il.scoped || l.scoped
					out.lines = append(out.lines, il)
				}
				a.logger.Debug().Str("include", match).Msg("Read included file")
			}
		}
	}
	return out, nil
}

// includedOwner returns the included file whose line determines key, or ""
// when the managed file itself does.
func (a *Adapter) includedOwner(ctx context.Context, content []byte, key string) (string, error) {
	doc, err := a.expand(ctx, content)
	if err != nil {
		return "", err
	}
	if idx := doc.effective(key); idx >= 0 {
		return doc.lines[idx].origin, nil
	}
	return "", nil
}
