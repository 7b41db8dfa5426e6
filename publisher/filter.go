package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects records whose content matches any of its glob patterns
type GlobFilter struct {
	contentGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(contentPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		contentGlobs: make([]glob.Glob, 0, len(contentPatterns)),
	}

	for _, pattern := range contentPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid content pattern %q: %w", pattern, err)
		}
		filter.contentGlobs = append(filter.contentGlobs, g)
	}

	return filter, nil
}

// Match returns true if content matches at least one pattern
// If no patterns are configured, all records match
func (f *GlobFilter) Match(content string) bool {
	if len(f.contentGlobs) == 0 {
		return true
	}
	for _, g := range f.contentGlobs {
		if g.Match(content) {
			return true
		}
	}
	return false
}
