package ignore

import (
	"path/filepath"
	"regexp"
	"strings"
)

type rule struct {
	pattern  string
	re       *regexp.Regexp
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher applies gitignore-like rules with "last rule wins" behavior.
type Matcher struct {
	rules []rule
}

// DefaultRules are always applied before user rules from .oracleignore.
var DefaultRules = []string{
	".git/",
	".oracle/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"venv/",
	".mypy_cache/",
	".pytest_cache/",
	"dist/",
	"build/",
}

// NewMatcher builds a matcher from .oracleignore lines. Default excludes are
// prepended and can be overridden by user negation rules.
func NewMatcher(userRules []string) *Matcher {
	all := make([]string, 0, len(DefaultRules)+len(userRules))
	all = append(all, DefaultRules...)
	all = append(all, userRules...)

	rules := make([]rule, 0, len(all))
	for _, line := range all {
		if parsed, ok := parseRule(line); ok {
			rules = append(rules, parsed)
		}
	}
	return &Matcher{rules: rules}
}

// ShouldIgnore returns true when relPath should be excluded.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = normalizePath(relPath)
	ignored := false
	for _, r := range m.rules {
		if ruleMatches(r, relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

// MatchGlob reports whether relPath matches a root-relative glob. "*" and "?"
// stay within one path segment; "**/" matches zero or more directories.
func MatchGlob(pattern, relPath string) bool {
	return compileGlob(normalizePath(pattern)).MatchString(normalizePath(relPath))
}

// MatchAny reports whether relPath matches at least one glob.
func MatchAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if MatchGlob(pattern, relPath) {
			return true
		}
	}
	return false
}

func parseRule(line string) (rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	parsed := rule{}
	if strings.HasPrefix(line, "!") {
		parsed.negated = true
		line = strings.TrimPrefix(line, "!")
	}
	if strings.HasPrefix(line, "/") {
		parsed.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.HasSuffix(line, "/") {
		parsed.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	line = normalizePath(line)
	if line == "" {
		return rule{}, false
	}
	parsed.pattern = line
	parsed.re = compileGlob(line)
	return parsed, true
}

func ruleMatches(r rule, relPath string, isDir bool) bool {
	if r.dirOnly {
		if matchDirectoryPrefix(r, relPath) {
			return true
		}
		return isDir && r.re.MatchString(filepath.Base(relPath))
	}

	if r.anchored {
		return r.re.MatchString(relPath)
	}

	if strings.Contains(r.pattern, "/") {
		parts := strings.Split(relPath, "/")
		for i := 0; i < len(parts); i++ {
			if r.re.MatchString(strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}

	for _, segment := range strings.Split(relPath, "/") {
		if r.re.MatchString(segment) {
			return true
		}
	}
	return false
}

func matchDirectoryPrefix(r rule, relPath string) bool {
	parts := strings.Split(relPath, "/")
	for i := range parts {
		if r.anchored {
			if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
				return true
			}
			continue
		}
		for j := 0; j <= i; j++ {
			if r.re.MatchString(strings.Join(parts[j:i+1], "/")) {
				return true
			}
		}
	}
	return false
}

func compileGlob(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case ch == '*' && strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case ch == '*' && strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case ch == '*':
			b.WriteString("[^/]*")
		case ch == '?':
			b.WriteString("[^/]")
		case strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)):
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func normalizePath(path string) string {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}
