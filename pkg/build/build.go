// Package build models one named image build: a source image
// descriptor plus a root variant and optional per-source-tag override
// variants.
package build

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bedag/image-build/pkg/config"
)

// RootKey indexes the root variant in Build.Variants.
const RootKey = "."

// Source describes the upstream image a build derives from. Primary
// marks the canonical source tag.
type Source struct {
	Name    string
	Tags    []string
	Primary string
}

// Build is one named image-production unit spanning one or more source
// tags.
type Build struct {
	Name      string
	Namespace string
	Source    Source
	RootDir   string
	// VariantsDirName is as configured, relative to RootDir.
	VariantsDirName string
	VariantsDir     string
	Variants        map[string]*Variant
}

// New wires a build from its manifest entry. rootDir is the manifest's
// directory. Override variants are discovered for every source tag with
// a same-named subdirectory under the variants directory.
func New(spec config.BuildSpec, rootDir string) (*Build, error) {
	namespace := spec.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}
	templateFile := spec.TemplateFile
	if templateFile == "" {
		templateFile = config.DefaultTemplateFile
	}
	variantsDirName := spec.VariantsDir
	if variantsDirName == "" {
		variantsDirName = config.DefaultVariantsDir
	}
	tags := spec.Tags
	if len(tags) == 0 {
		tags = []config.TagSpec{{Template: "latest"}}
	}

	source := Source{
		Name:    spec.Source.Name,
		Tags:    spec.Source.Tags,
		Primary: spec.Source.Primary,
	}
	if source.Name == "" {
		source.Name = spec.Name
	}
	if len(source.Tags) == 0 {
		source.Tags = []string{"latest"}
	}
	if source.Primary == "" {
		source.Primary = source.Tags[0]
	}
	if !slices.Contains(source.Tags, source.Primary) {
		return nil, fmt.Errorf("build %s: primary tag %q is not among source tags %v", spec.Name, source.Primary, source.Tags)
	}

	b := &Build{
		Name:            spec.Name,
		Namespace:       namespace,
		Source:          source,
		RootDir:         rootDir,
		VariantsDirName: variantsDirName,
		VariantsDir:     filepath.Join(rootDir, variantsDirName),
		Variants:        map[string]*Variant{},
	}

	root, err := NewVariant(rootDir, "", Defaults{
		TemplateFile: templateFile,
		Variables:    spec.Variables,
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", spec.Name, err)
	}
	b.Variants[RootKey] = root

	for _, sourceTag := range source.Tags {
		dir := filepath.Join(b.VariantsDir, sourceTag)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		// override layers inherit variables and the template fallback
		// but not tag candidates: their rendered tags replace the
		// root's, an empty override really means no destination tags
		variant, err := NewVariant(dir, config.DefaultManifestFile, Defaults{
			Template:  root.Template(),
			Variables: spec.Variables,
		})
		if err != nil {
			return nil, fmt.Errorf("build %s: variant %s: %w", spec.Name, sourceTag, err)
		}
		b.Variants[sourceTag] = variant
	}

	return b, nil
}

// Root returns the root variant.
func (b *Build) Root() *Variant {
	return b.Variants[RootKey]
}

// Override returns the override variant for a source tag, if one
// exists.
func (b *Build) Override(sourceTag string) (*Variant, bool) {
	v, ok := b.Variants[sourceTag]
	return v, ok
}

// Repository is the destination repository, namespace/name.
func (b *Build) Repository() string {
	return path.Join(b.Namespace, b.Name)
}
