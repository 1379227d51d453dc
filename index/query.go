package index

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Query filters index entries. Name matching is exact first; when nothing
// matches exactly, a case-insensitive substring fallback runs. Kind,
// container, file, and external filters intersect with the name filter.
type Query struct {
	Name            string
	Kinds           []lsp.SymbolKind
	Container       string
	File            string // root-relative path
	IncludeChildren bool
	IncludeExternal bool
	OnlyExternal    bool
	SourceLibrary   string
}

// Search runs a query against the current index snapshot. No matches is an
// empty result, never an error.
func (i *Index) Search(q Query) []*Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var candidates []*Entry
	switch {
	case len(q.Name) != 0:
		candidates = i.byName[q.Name]
		if len(candidates) == 0 {
			candidates = i.substringFallbackLocked(q.Name)
		}
	case len(q.Container) != 0:
		candidates = i.byContainer[q.Container]
	case len(q.Kinds) != 0:
		for _, kind := range q.Kinds {
			candidates = append(candidates, i.byKind[kind]...)
		}
	default:
		for _, record := range i.files {
			Walk(record.Symbols, func(e *Entry) {
				candidates = append(candidates, e)
			})
		}
	}

	results := make([]*Entry, 0, len(candidates))
	for _, entry := range candidates {
		if !q.matches(i, entry) {
			continue
		}
		results = append(results, entry)
	}
	return results
}

// substring fallback, ordered by edit distance to the query
func (i *Index) substringFallbackLocked(name string) []*Entry {
	needle := strings.ToLower(name)

	var matched []*Entry
	for indexed, entries := range i.byName {
		if !strings.Contains(strings.ToLower(indexed), needle) {
			continue
		}
		matched = append(matched, entries...)
	}

	sort.SliceStable(matched, func(a, b int) bool {
		return levenshtein.ComputeDistance(name, matched[a].Name) <
			levenshtein.ComputeDistance(name, matched[b].Name)
	})
	return matched
}

func (q Query) matches(i *Index, entry *Entry) bool {
	if len(q.Kinds) != 0 {
		found := false
		for _, kind := range q.Kinds {
			if entry.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(q.Container) != 0 && entry.Container != q.Container {
		return false
	}

	if len(q.File) != 0 && entry.Location.URI != uri.File(i.absPath(q.File)) {
		return false
	}

	if !q.IncludeChildren && len(entry.Container) != 0 {
		return false
	}

	if q.OnlyExternal {
		if !entry.External {
			return false
		}
	} else if !q.IncludeExternal && entry.External {
		return false
	}

	if len(q.SourceLibrary) != 0 && entry.SourceLibrary != q.SourceLibrary {
		return false
	}

	return true
}
