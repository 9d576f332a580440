package pathseed

import (
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

type matchType int

const (
	prefixMatch matchType = iota
	suffixMatch
	globMatch
)

// pattern is one pre-analyzed non-literal exclusion pattern.
type pattern struct {
	raw          string
	clean        string // raw with the wildcard stripped for prefix/suffix matching
	matchType    matchType
	baseOnly     bool // match against the basename instead of the relative path
	dirPrefix    bool // "build/" style: match the dir itself and everything under it
}

// ExcludeSet answers whether a relative path is excluded from the seed walk.
// Patterns without a separator match any basename (like "node_modules"
// anywhere in the tree); patterns with a separator match the slash-normalized
// relative path. All matching is case-insensitive.
type ExcludeSet struct {
	literals     map[string]struct{}
	baseLiterals map[string]struct{}
	patterns     []pattern
}

// NewExcludeSet analyzes patterns once so the per-entry check stays cheap.
func NewExcludeSet(raw []string) *ExcludeSet {
	set := &ExcludeSet{
		literals:     make(map[string]struct{}),
		baseLiterals: make(map[string]struct{}),
	}

	for _, p := range raw {
		p = normalizePattern(p)
		if p == "" {
			continue
		}

		switch {
		case !strings.ContainsAny(p, "*?[]"):
			if trimmed, ok := strings.CutSuffix(p, "/"); ok {
				set.patterns = append(set.patterns, pattern{raw: p, clean: trimmed, matchType: prefixMatch, dirPrefix: true})
			} else if strings.Contains(p, "/") {
				set.literals[p] = struct{}{}
			} else {
				set.baseLiterals[p] = struct{}{}
			}
		case strings.HasSuffix(p, "/*"):
			set.patterns = append(set.patterns, pattern{raw: p, clean: strings.TrimSuffix(p, "/*"), matchType: prefixMatch, dirPrefix: true})
		case strings.HasPrefix(p, "*") && !strings.ContainsAny(p[1:], "*?[]"):
			// "*.log" style suffix patterns.
			set.patterns = append(set.patterns, pattern{raw: p, clean: p[1:], matchType: suffixMatch, baseOnly: !strings.Contains(p, "/")})
		case strings.HasSuffix(p, "*") && !strings.ContainsAny(p[:len(p)-1], "*?[]"):
			// "~*" style prefix patterns.
			set.patterns = append(set.patterns, pattern{raw: p, clean: p[:len(p)-1], matchType: prefixMatch, baseOnly: !strings.Contains(p, "/")})
		default:
			set.patterns = append(set.patterns, pattern{raw: p, clean: p, matchType: globMatch, baseOnly: !strings.Contains(p, "/")})
		}
	}
	return set
}

// Match reports whether the relative path is excluded.
func (es *ExcludeSet) Match(relPath string) bool {
	path := normalizePattern(relPath)
	base := normalizePattern(filepath.Base(relPath))

	if _, ok := es.literals[path]; ok {
		return true
	}
	if _, ok := es.baseLiterals[base]; ok {
		return true
	}

	for _, p := range es.patterns {
		candidate := path
		if p.baseOnly {
			candidate = base
		}

		switch p.matchType {
		case prefixMatch:
			if p.dirPrefix {
				if candidate == p.clean || strings.HasPrefix(candidate, p.clean+"/") {
					return true
				}
				continue
			}
			if strings.HasPrefix(candidate, p.clean) {
				return true
			}
		case suffixMatch:
			if strings.HasSuffix(candidate, p.clean) {
				return true
			}
		case globMatch:
			ok, err := filepath.Match(p.clean, candidate)
			if err != nil {
				plog.Warn("Invalid exclusion pattern", "pattern", p.raw, "error", err)
				continue
			}
			if ok {
				return true
			}
		}
	}
	return false
}

// normalizePattern converts a path or pattern into the shared key format:
// forward slashes, lowercase.
func normalizePattern(p string) string {
	return strings.ToLower(filepath.ToSlash(strings.TrimSpace(p)))
}
