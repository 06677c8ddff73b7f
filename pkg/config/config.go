// Package config holds the build manifest schema and loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultManifestFile is the manifest filename looked up by default and
// the config filename expected inside variant directories.
const DefaultManifestFile = "image-build.yml"

// DefaultTemplateFile is the build script template filename used when a
// build or variant does not configure one.
const DefaultTemplateFile = "Dockerfile.j2"

// DefaultNamespace prefixes destination repositories when a build does
// not configure one.
const DefaultNamespace = "image-build"

// DefaultVariantsDir is resolved relative to the manifest's directory.
const DefaultVariantsDir = "variants"

// TagSpec is one destination-tag candidate as configured.
type TagSpec struct {
	Template    string   `yaml:"template"`
	Selectors   []string `yaml:"selectors"`
	OnlyPrimary bool     `yaml:"only_primary"`
	Negate      bool     `yaml:"negate"`
}

// SourceSpec describes the upstream image a build derives from.
type SourceSpec struct {
	Name    string   `yaml:"name"`
	Tags    []string `yaml:"tags"`
	Primary string   `yaml:"primary"`
}

// BuildSpec is one build entry of the manifest.
type BuildSpec struct {
	Name         string         `yaml:"name"`
	Source       SourceSpec     `yaml:"source"`
	VariantsDir  string         `yaml:"variants_dir"`
	Namespace    string         `yaml:"namespace"`
	TemplateFile string         `yaml:"template_file"`
	Variables    map[string]any `yaml:"variables"`
	Tags         []TagSpec      `yaml:"tags"`
}

// Manifest is the parsed build manifest. Dir is the manifest's
// directory and serves as the implicit root_dir of every build.
type Manifest struct {
	Dir    string
	Builds []BuildSpec
}

// Load reads a build manifest. The top level may be a bare sequence of
// build entries or a mapping with a "builds" key. Unlike variant config
// files, an unreadable or malformed manifest is fatal.
func Load(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Error loading manifest")
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Decoding YAML failed! Check syntax and try again")
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", filename)
	}

	root := doc.Content[0]
	var builds []BuildSpec
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&builds); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", filename, err)
		}
	case yaml.MappingNode:
		var wrapper struct {
			Builds []BuildSpec `yaml:"builds"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", filename, err)
		}
		builds = wrapper.Builds
	default:
		return nil, fmt.Errorf("manifest %s: top level must be a sequence or a mapping with a builds key", filename)
	}

	for i, b := range builds {
		if b.Name == "" {
			return nil, fmt.Errorf("manifest %s: build %d has no name", filename, i)
		}
	}

	return &Manifest{
		Dir:    filepath.Dir(filename),
		Builds: builds,
	}, nil
}

// VariantConfig is the optional per-variant-directory configuration.
type VariantConfig struct {
	Variables    map[string]any `yaml:"variables"`
	TemplateFile string         `yaml:"template_file"`
	Tags         []TagSpec      `yaml:"tags"`
}

// LoadVariant reads a variant config file. A missing or unreadable file
// and malformed YAML all fall back to an empty config so a variant
// directory with no config still contributes its files, that soft-fail
// is deliberate and only the parse error gets logged.
func LoadVariant(filename string) *VariantConfig {
	var cfg VariantConfig

	data, err := os.ReadFile(filename)
	if err != nil {
		return &cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("Malformed variant config, using defaults")
		return &VariantConfig{}
	}
	return &cfg
}
