package build

import (
	"regexp"

	"github.com/bedag/image-build/pkg/config"
	"github.com/bedag/image-build/pkg/tmpl"
)

// TagCandidate is a destination-tag template plus its applicability
// rule. Selection is decided before any rendering happens, so templates
// of unselected candidates may reference variables that are never
// provided.
type TagCandidate struct {
	Template    string
	OnlyPrimary bool
	Negate      bool
	selectors   []*regexp.Regexp
}

// NewTagCandidate compiles the candidate's selector patterns. A pattern
// that does not compile is a manifest error.
func NewTagCandidate(spec config.TagSpec) (*TagCandidate, error) {
	candidate := &TagCandidate{
		Template:    spec.Template,
		OnlyPrimary: spec.OnlyPrimary,
		Negate:      spec.Negate,
	}
	for _, pattern := range spec.Selectors {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		candidate.selectors = append(candidate.selectors, re)
	}
	return candidate, nil
}

// Selected reports whether the candidate applies for the given
// selection filter and primary flag. Candidates restricted to the
// primary source tag are ineligible for non-primary tags. For eligible
// candidates with selectors and a non-empty filter, any matching
// selector selects the candidate, inverted when negate is set.
func (c *TagCandidate) Selected(selectFilter string, primary bool) bool {
	if !primary && primary != c.OnlyPrimary {
		return false
	}

	if selectFilter != "" && len(c.selectors) > 0 {
		for _, selector := range c.selectors {
			if selector.MatchString(selectFilter) {
				return !c.Negate
			}
		}
		return c.Negate
	}

	return !c.Negate
}

// Render expands the tag template. Only called for selected candidates.
func (c *TagCandidate) Render(vars map[string]any) (string, error) {
	return tmpl.Render(c.Template, vars)
}
