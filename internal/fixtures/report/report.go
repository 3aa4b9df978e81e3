// Package report formats fixture query results for the fixtures CLI, mirroring
// the Format/Formatter split used by the query tooling this was adapted from.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/sortutil"
)

// isTerminal reports whether w is a terminal, so unused-fixture highlighting
// can be skipped when output is redirected to a file or pipe.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Format selects how a Formatter renders a result set.
type Format int

const (
	FormatName Format = iota
	FormatLocation
	FormatJSON
	FormatCount
)

// ParseFormat parses a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "name":
		return FormatName, nil
	case "location":
		return FormatLocation, nil
	case "json":
		return FormatJSON, nil
	case "count":
		return FormatCount, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want name, location, json, or count)", s)
	}
}

// Entry is one fixture definition plus its reference count, as listed by
// "fixtures list".
type Entry struct {
	Def        fixtures.FixtureDefinition
	UsageCount int
	Unused     bool
}

type jsonEntry struct {
	Name       string `json:"name"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Scope      string `json:"scope"`
	Autouse    bool   `json:"autouse"`
	ThirdParty bool   `json:"third_party"`
	UsageCount int    `json:"usage_count"`
}

// WriteEntries renders entries in the given format, sorted by file then line
// then name for determinism.
func WriteEntries(w io.Writer, entries []Entry, format Format) error {
	sortutil.ByFileLineName(entries,
		func(e Entry) string { return e.Def.FilePath },
		func(e Entry) int { return e.Def.Line },
		func(e Entry) string { return e.Def.Name },
	)

	switch format {
	case FormatCount:
		_, err := fmt.Fprintln(w, strconv.Itoa(len(entries)))
		return err
	case FormatJSON:
		out := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, jsonEntry{
				Name:       e.Def.Name,
				File:       e.Def.FilePath,
				Line:       e.Def.Line,
				Scope:      e.Def.Scope,
				Autouse:    e.Def.Autouse,
				ThirdParty: e.Def.IsThirdParty,
				UsageCount: e.UsageCount,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case FormatLocation:
		color := isTerminal(w)
		for _, e := range entries {
			name := e.Def.Name
			if color && e.Unused {
				name = "\x1b[33m" + name + "\x1b[0m" // yellow: zero references
			}
			if _, err := fmt.Fprintf(w, "%s:%d: %s (%d uses)\n", e.Def.FilePath, e.Def.Line, name, e.UsageCount); err != nil {
				return err
			}
		}
		return nil
	default: // FormatName
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, e.Def.Name); err != nil {
				return err
			}
		}
		return nil
	}
}

// WriteUndeclared renders undeclared-fixture usages, one per line, in the
// form expected by "fixtures undeclared".
func WriteUndeclared(w io.Writer, items []fixtures.UndeclaredFixture) error {
	sortutil.ByFileLine(items,
		func(u fixtures.UndeclaredFixture) string { return u.FilePath },
		func(u fixtures.UndeclaredFixture) int { return u.Line },
	)
	for _, u := range items {
		if _, err := fmt.Fprintf(w, "%s:%d:%d: fixture %q used without declaration in %s\n",
			u.FilePath, u.Line, u.StartChar+1, u.Name, u.FunctionName); err != nil {
			return err
		}
	}
	return nil
}
