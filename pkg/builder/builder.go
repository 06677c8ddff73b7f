// Package builder orchestrates the whole pipeline: manifest in, built
// and tagged images out.
package builder

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bedag/image-build/pkg/archive"
	"github.com/bedag/image-build/pkg/build"
	"github.com/bedag/image-build/pkg/config"
	"github.com/bedag/image-build/pkg/confmap"
	"github.com/bedag/image-build/pkg/engine"
	"github.com/bedag/image-build/pkg/gitmeta"
)

// Builder processes every build of a manifest sequentially: builds one
// at a time, source tags within a build one at a time, synchronous
// engine calls. The first hard failure aborts the run.
type Builder struct {
	flags  *config.Flags
	vars   map[string]any
	builds []*build.Build
	engine *engine.Client
	git    map[string]any
	out    io.Writer
	now    func() time.Time
}

// New loads the manifest named by the flags and connects to the build
// engine. In dry-run mode no engine connection is made.
func New(flags *config.Flags, vars map[string]any) (*Builder, error) {
	manifest, err := config.Load(flags.File)
	if err != nil {
		return nil, err
	}

	var eng *engine.Client
	if !flags.DryRun {
		eng, err = engine.New()
		if err != nil {
			return nil, err
		}
	}

	return FromManifest(manifest, flags, vars, eng)
}

// FromManifest wires a builder from an already-loaded manifest. Tests
// use it to inject a mocked engine.
func FromManifest(manifest *config.Manifest, flags *config.Flags, vars map[string]any, eng *engine.Client) (*Builder, error) {
	if vars == nil {
		vars = map[string]any{}
	}

	b := &Builder{
		flags:  flags,
		vars:   vars,
		engine: eng,
		out:    os.Stdout,
		now:    time.Now,
	}
	b.git, _ = gitmeta.Read(manifest.Dir)

	for _, spec := range manifest.Builds {
		bd, err := build.New(spec, manifest.Dir)
		if err != nil {
			return nil, err
		}
		b.builds = append(b.builds, bd)
	}

	return b, nil
}

// SetOutput redirects dry-run printing, used by tests.
func (b *Builder) SetOutput(w io.Writer) {
	b.out = w
}

// Run processes every build. The returned error, if any, makes the
// whole run fail.
func (b *Builder) Run(ctx context.Context) error {
	// one build's variant tree or template must never leak into
	// another's context, so every build's variants dir and root
	// template is excluded from every root file set
	var rootExcludes []string
	for _, bd := range b.builds {
		rootExcludes = append(rootExcludes, bd.VariantsDirName, bd.Root().TemplateFile)
	}

	for _, bd := range b.builds {
		if err := b.runBuild(ctx, bd, rootExcludes); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) runBuild(ctx context.Context, bd *build.Build, rootExcludes []string) error {
	// all source tags of one build share one timestamp
	timestamp := b.now().Format("20060102150405")
	repository := bd.Repository()
	log.Info().Str("build", bd.Name).Str("repository", repository).Msg("Processing")

	hasApplicableTags := false
	for _, sourceTag := range bd.Source.Tags {
		primary := sourceTag == bd.Source.Primary

		// the scaffold is rebuilt from scratch every iteration so no
		// state leaks between source tags
		vars := confmap.Clone(b.vars)
		vars["_source"] = map[string]any{
			"name":    bd.Source.Name,
			"tag":     sourceTag,
			"primary": primary,
		}
		dest := map[string]any{
			"name":      bd.Name,
			"namespace": bd.Namespace,
		}
		vars["_dest"] = dest
		vars["_timestamp"] = timestamp
		if b.git != nil {
			vars["_git"] = b.git
		}

		rootTags, err := bd.Root().RenderTags(vars, b.flags.Select, primary)
		if err != nil {
			return err
		}
		tags := rootTags
		dest["tags"] = tags

		dockerfile, err := bd.Root().RenderDockerfile(vars)
		if err != nil {
			return err
		}

		rootFiles, err := bd.Root().Files(rootExcludes)
		if err != nil {
			return err
		}

		variantFiles := []string{}
		override, hasOverride := bd.Override(sourceTag)
		if hasOverride {
			// the override layer's tags replace the root's, even when
			// the override declares none
			tags, err = override.RenderTags(vars, b.flags.Select, primary)
			if err != nil {
				return err
			}
			dest["tags"] = tags

			vars["_base"] = dockerfile
			dockerfile, err = override.RenderDockerfile(vars)
			if err != nil {
				return err
			}
			variantFiles, err = override.Files(nil)
			if err != nil {
				return err
			}
		}

		if b.flags.DryRun {
			b.printDryRun(bd, sourceTag, rootTags, tags, rootFiles, variantFiles, hasOverride, dockerfile)
			if len(tags) > 0 {
				hasApplicableTags = true
			}
			continue
		}

		if len(tags) == 0 {
			log.Info().Str("source tag", sourceTag).Msg("No applicable destination tags, skipping build phase")
			continue
		}

		buildContext := archive.New()
		if err := buildContext.AddDir(bd.RootDir, rootFiles); err != nil {
			return err
		}
		if hasOverride {
			if err := buildContext.AddDir(override.Dir, variantFiles); err != nil {
				return err
			}
		}
		if err := buildContext.AddFile("Dockerfile", []byte(dockerfile)); err != nil {
			return err
		}
		reader, err := buildContext.Reader()
		if err != nil {
			return err
		}

		imageID, err := b.engine.Build(ctx, reader)
		if err != nil {
			log.Error().Err(err).Str("build", bd.Name).Str("source tag", sourceTag).Msg("Failed to build image")
			return err
		}
		for _, tag := range tags {
			if err := b.engine.Tag(ctx, imageID, repository, tag); err != nil {
				return err
			}
			log.Info().Str("image", repository+":"+tag).Msg("Tagged")
		}
		hasApplicableTags = true
	}

	if !hasApplicableTags {
		if b.flags.IgnoreEmpty {
			log.Warn().Str("build", bd.Name).Msg("No applicable destination for any source tag, ignored")
			return nil
		}
		return fmt.Errorf("build %s has no applicable destination for any source tag", bd.Name)
	}

	if b.flags.Push && !b.flags.DryRun {
		if err := b.engine.Push(ctx, repository); err != nil {
			log.Error().Err(err).Str("repository", repository).Msg("Failed to push image")
			return err
		}
	}
	if b.flags.Export && !b.flags.DryRun {
		if err := b.export(ctx, repository); err != nil {
			log.Error().Err(err).Str("repository", repository).Msg("Failed to export image")
			return err
		}
	}
	return nil
}

func (b *Builder) export(ctx context.Context, repository string) error {
	filename := strings.ReplaceAll(repository, "/", "_") + ".tar.gz"
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	if err := b.engine.Save(ctx, repository, gz); err != nil {
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	log.Info().Str("file", filename).Msg("Exported")
	return f.Close()
}

func (b *Builder) printDryRun(bd *build.Build, sourceTag string, rootTags, tags, rootFiles, variantFiles []string, hasOverride bool, dockerfile string) {
	fmt.Fprintf(b.out, "Source: %s:%s\n", bd.Source.Name, sourceTag)
	if hasOverride {
		fmt.Fprintln(b.out, "  Root tags (replaced by variant):")
		printIndented(b.out, rootTags)
	}
	fmt.Fprintln(b.out, "  Tags:")
	printIndented(b.out, tags)
	fmt.Fprintln(b.out, "  Base files:")
	printIndented(b.out, rootFiles)
	fmt.Fprintln(b.out, "  Variant files:")
	printIndented(b.out, variantFiles)
	fmt.Fprintln(b.out, "  Dockerfile:")
	for _, line := range strings.Split(strings.TrimRight(dockerfile, "\n"), "\n") {
		fmt.Fprintf(b.out, "    %s\n", line)
	}
	fmt.Fprintln(b.out)
}

func printIndented(w io.Writer, items []string) {
	for _, item := range items {
		fmt.Fprintf(w, "    %s\n", item)
	}
}
