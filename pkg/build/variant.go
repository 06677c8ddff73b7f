package build

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/rs/zerolog/log"

	"github.com/bedag/image-build/pkg/config"
	"github.com/bedag/image-build/pkg/confmap"
	"github.com/bedag/image-build/pkg/tmpl"
)

// Variant is one directory-scoped configuration layer of a build: the
// root layer, or an override layer keyed by source tag. It carries its
// own build script template, tag candidates, variables and context
// files.
type Variant struct {
	Dir          string
	ConfigFile   string
	TemplateFile string
	Variables    map[string]any

	template   string
	candidates []*TagCandidate
}

// Defaults seed a variant before its own config file is applied. For
// override variants they come from the build level and the root
// variant.
type Defaults struct {
	TemplateFile string
	// Template is the parent's template text, used when the variant
	// directory has no template file of its own.
	Template  string
	Variables map[string]any
	Tags      []config.TagSpec
}

// NewVariant builds a variant rooted at dir. configFile may be empty
// for the root layer, which has no per-directory config.
func NewVariant(dir, configFile string, defaults Defaults) (*Variant, error) {
	cfg := &config.VariantConfig{}
	if configFile != "" {
		cfg = config.LoadVariant(filepath.Join(dir, configFile))
	}

	templateFile := defaults.TemplateFile
	if templateFile == "" {
		templateFile = config.DefaultTemplateFile
	}
	if cfg.TemplateFile != "" {
		templateFile = cfg.TemplateFile
	}

	v := &Variant{
		Dir:          dir,
		ConfigFile:   configFile,
		TemplateFile: templateFile,
		Variables:    confmap.Merge(defaults.Variables, cfg.Variables),
	}

	// first occurrence of a template string keeps its slot, a later
	// re-definition replaces the candidate in place
	slots := map[string]int{}
	for _, spec := range append(append([]config.TagSpec{}, defaults.Tags...), cfg.Tags...) {
		candidate, err := NewTagCandidate(spec)
		if err != nil {
			return nil, fmt.Errorf("variant %s: tag %q: %w", dir, spec.Template, err)
		}
		if i, seen := slots[spec.Template]; seen {
			v.candidates[i] = candidate
			continue
		}
		slots[spec.Template] = len(v.candidates)
		v.candidates = append(v.candidates, candidate)
	}

	text, err := os.ReadFile(filepath.Join(dir, templateFile))
	switch {
	case err == nil:
		v.template = string(text)
	case os.IsNotExist(err):
		// fall back to the parent's template
		v.template = defaults.Template
	default:
		return nil, err
	}

	return v, nil
}

// Template exposes the raw template text so override variants can
// inherit it.
func (v *Variant) Template() string {
	return v.template
}

// Tags returns the candidates in insertion order.
func (v *Variant) Tags() []*TagCandidate {
	return v.candidates
}

// RenderDockerfile renders the build script. The caller's variables
// take precedence over the variant's own.
func (v *Variant) RenderDockerfile(vars map[string]any) (string, error) {
	if v.template == "" {
		return "", fmt.Errorf("variant %s: no build script template %s", v.Dir, v.TemplateFile)
	}
	return tmpl.Render(v.template, confmap.Merge(v.Variables, vars))
}

// RenderTags renders every selected candidate in insertion order.
func (v *Variant) RenderTags(vars map[string]any, selectFilter string, primary bool) ([]string, error) {
	merged := confmap.Merge(v.Variables, vars)

	tags := []string{}
	for _, candidate := range v.candidates {
		if !candidate.Selected(selectFilter, primary) {
			continue
		}
		rendered, err := candidate.Render(merged)
		if err != nil {
			return nil, err
		}
		tags = append(tags, rendered)
	}
	return tags, nil
}

// Files returns the sorted build context files under the variant
// directory, excluding the variant's own config and template files, the
// caller-supplied patterns and everything listed in a .dockerignore at
// the directory root.
func (v *Variant) Files(exclude []string) ([]string, error) {
	patterns := append([]string{}, exclude...)
	if v.ConfigFile != "" {
		patterns = append(patterns, v.ConfigFile)
	} else {
		patterns = append(patterns, config.DefaultManifestFile)
	}
	patterns = append(patterns, v.TemplateFile)
	patterns = append(patterns, v.dockerignore()...)

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(v.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == v.Dir {
			return nil
		}

		rel, err := filepath.Rel(v.Dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		matched, err := matcher.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if matched {
			if entry.IsDir() && !matcher.Exclusions() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func (v *Variant) dockerignore() []string {
	data, err := os.ReadFile(filepath.Join(v.Dir, ".dockerignore"))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", v.Dir).Msg("Unreadable .dockerignore, ignoring")
		}
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			patterns = append(patterns, line)
		}
	}
	return patterns
}
