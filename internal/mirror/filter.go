package mirror

import (
	"path"
	"strings"

	"github.com/spmirror/spmirror/internal/config"
)

// Filter decides whether a remote item is eligible for mirroring.
// It is a pure predicate over (path, name, size) — no I/O, no state — so
// filter changes between runs simply re-classify items on the next pass.
type Filter struct {
	maxSizeBytes int64
	includeExts  map[string]bool
	excludeExts  map[string]bool
	includePaths []string
	patterns     []string
}

// Decision is a filter verdict. Reason is set only on rejection and feeds
// skip logging.
type Decision struct {
	Allowed bool
	Reason  string
}

// Rejection reasons, in cascade order.
const (
	ReasonTooLarge        = "too_large"
	ReasonExtNotIncluded  = "ext_not_included"
	ReasonExtExcluded     = "ext_excluded"
	ReasonPathNotIncluded = "path_not_included"
	ReasonPatternExcluded = "pattern_excluded"
	ReasonNoPatternMatch  = "no_pattern_match"
)

const bytesPerMB = 1024 * 1024

// NewFilter compiles a filter from the sync configuration. Extension lists
// are lowercased; max_file_size_mb of 0 disables the size cap.
func NewFilter(cfg *config.SyncConfig) *Filter {
	f := &Filter{
		maxSizeBytes: cfg.MaxFileSizeMB * bytesPerMB,
		includeExts:  lowerSet(cfg.IncludeExtensions),
		excludeExts:  lowerSet(cfg.ExcludeExtensions),
		patterns:     cfg.PathPatterns,
	}

	for _, p := range cfg.IncludePaths {
		f.includePaths = append(f.includePaths, normalizePath(p))
	}

	return f
}

// Evaluate runs the filter cascade:
//
//  1. size cap
//  2. extension allow-list (when non-empty, the extension must be present)
//  3. extension deny-list
//  4. path prefix allow-list, matched at a path boundary
//  5. glob patterns, first match wins; "!" patterns reject
//
// An empty pattern list accepts; a non-empty one with no match rejects.
func (f *Filter) Evaluate(itemPath, name string, size int64) Decision {
	if f.maxSizeBytes > 0 && size > f.maxSizeBytes {
		return Decision{Reason: ReasonTooLarge}
	}

	ext := extensionOf(name)

	if len(f.includeExts) > 0 && !f.includeExts[ext] {
		return Decision{Reason: ReasonExtNotIncluded}
	}

	if f.excludeExts[ext] {
		return Decision{Reason: ReasonExtExcluded}
	}

	normalized := normalizePath(itemPath)

	if len(f.includePaths) > 0 && !f.underAnyPrefix(normalized) {
		return Decision{Reason: ReasonPathNotIncluded}
	}

	if len(f.patterns) > 0 {
		return f.evaluatePatterns(normalized, name)
	}

	return Decision{Allowed: true}
}

// underAnyPrefix reports whether p equals one of the include paths or sits
// beneath one at a path boundary ("/Reports" matches "/Reports/x" but not
// "/Reports2").
func (f *Filter) underAnyPrefix(p string) bool {
	for _, prefix := range f.includePaths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}

	return false
}

// evaluatePatterns applies the glob list, first match wins. Patterns without
// a slash match against the item name; patterns with a slash match against
// the full drive-relative path.
func (f *Filter) evaluatePatterns(itemPath, name string) Decision {
	for _, raw := range f.patterns {
		pattern := raw
		negated := strings.HasPrefix(pattern, "!")

		if negated {
			pattern = pattern[1:]
		}

		if !matchPattern(pattern, itemPath, name) {
			continue
		}

		if negated {
			return Decision{Reason: ReasonPatternExcluded}
		}

		return Decision{Allowed: true}
	}

	return Decision{Reason: ReasonNoPatternMatch}
}

// matchPattern matches a single glob against the path or the bare name.
// Malformed patterns never match.
func matchPattern(pattern, itemPath, name string) bool {
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}

	ok, err := path.Match(strings.TrimPrefix(normalizePath(pattern), "/"), strings.TrimPrefix(itemPath, "/"))

	return err == nil && ok
}

// extensionOf returns the lowercased extension of name without the dot,
// or "" when there is none.
func extensionOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}

	return strings.ToLower(ext[1:])
}

// normalizePath cleans a drive-relative path to a leading-slash form.
func normalizePath(p string) string {
	p = strings.TrimSuffix(strings.TrimSpace(p), "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[strings.ToLower(strings.TrimPrefix(s, "."))] = true
	}

	return set
}
