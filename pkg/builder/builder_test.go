package builder_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dockerbuild "github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedag/image-build/pkg/builder"
	"github.com/bedag/image-build/pkg/config"
	"github.com/bedag/image-build/pkg/engine"
)

// mockAPI is a canned-response engine API recording every call.
type mockAPI struct {
	buildErr   error
	pushStream string

	buildCalls int
	tagCalls   []string
	pushCalls  []string
	saveCalls  int
}

var _ engine.API = (*mockAPI)(nil)

func (m *mockAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options dockerbuild.ImageBuildOptions) (dockerbuild.ImageBuildResponse, error) {
	m.buildCalls++
	if m.buildErr != nil {
		return dockerbuild.ImageBuildResponse{}, m.buildErr
	}
	_, _ = io.Copy(io.Discard, buildContext)
	return dockerbuild.ImageBuildResponse{
		Body: io.NopCloser(strings.NewReader(`{"stream":"Successfully built 4a21bff9e1de\n"}`)),
	}, nil
}

func (m *mockAPI) ImageTag(ctx context.Context, source, target string) error {
	m.tagCalls = append(m.tagCalls, target)
	return nil
}

func (m *mockAPI) ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	m.pushCalls = append(m.pushCalls, ref)
	stream := m.pushStream
	if stream == "" {
		stream = `{"status":"Pushed"}`
	}
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (m *mockAPI) ImageSave(ctx context.Context, imageIDs []string, saveOpts ...client.ImageSaveOption) (io.ReadCloser, error) {
	m.saveCalls++
	return io.NopCloser(strings.NewReader("tar-bytes")), nil
}

func (m *mockAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return nil, nil
}

func (m *mockAPI) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	return nil, nil
}

func (m *mockAPI) Close() error {
	return nil
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func manifest(dir string, builds ...config.BuildSpec) *config.Manifest {
	return &config.Manifest{Dir: dir, Builds: builds}
}

func TestRunBuildsEverySourceTag(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM {{ ._source.name }}:{{ ._source.tag }}\n")

	api := &mockAPI{}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name:   "app",
		Source: config.SourceSpec{Tags: []string{"1.0", "latest"}, Primary: "1.0"},
		Tags:   []config.TagSpec{{Template: "latest"}},
	}), &config.Flags{}, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 2, api.buildCalls)
	// both source tags produced the same destination tag, the second
	// overwrites the first's tag pointer
	assert.Equal(t, []string{"image-build/app:latest", "image-build/app:latest"}, api.tagCalls)
	assert.Empty(t, api.pushCalls)
}

func TestRunOverrideVariantReplacesTags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM base\n")
	// variant dir present but declaring no tags: destination tag set
	// becomes empty for that source tag, no engine call happens
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "variants", "1.0"), 0o755))

	api := &mockAPI{}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name:   "app",
		Source: config.SourceSpec{Tags: []string{"1.0", "2.0"}},
		Tags:   []config.TagSpec{{Template: "{{ ._source.tag }}"}},
	}), &config.Flags{}, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 1, api.buildCalls)
	assert.Equal(t, []string{"image-build/app:2.0"}, api.tagCalls)
}

func TestRunOverrideVariantBaseInjection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM upstream:{{ ._source.tag }}\n")
	write(t, dir, "variants/1.0/image-build.yml", "tags:\n  - template: one-oh\n")
	write(t, dir, "variants/1.0/Dockerfile.j2", "{{ ._base }}RUN extra\n")

	api := &mockAPI{}
	flags := &config.Flags{DryRun: true}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name:   "app",
		Source: config.SourceSpec{Tags: []string{"1.0"}},
	}), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	var out bytes.Buffer
	b.SetOutput(&out)

	require.NoError(t, b.Run(context.Background()))

	assert.Contains(t, out.String(), "FROM upstream:1.0")
	assert.Contains(t, out.String(), "RUN extra")
	assert.Contains(t, out.String(), "one-oh")
}

func TestDryRunNeverTouchesEngine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	api := &mockAPI{}
	flags := &config.Flags{DryRun: true, Push: true, Export: true}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{Name: "app"}), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	var out bytes.Buffer
	b.SetOutput(&out)

	require.NoError(t, b.Run(context.Background()))

	assert.Zero(t, api.buildCalls)
	assert.Empty(t, api.tagCalls)
	assert.Empty(t, api.pushCalls)
	assert.Zero(t, api.saveCalls)
	assert.Contains(t, out.String(), "Source: app:latest")
	assert.Contains(t, out.String(), "FROM scratch")
}

func TestRunSelectFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	api := &mockAPI{}
	flags := &config.Flags{Select: "release"}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name: "app",
		Tags: []config.TagSpec{
			{Template: "stable", Selectors: []string{"^release$"}},
			{Template: "nightly", Selectors: []string{"^nightly$"}},
		},
	}), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, []string{"image-build/app:stable"}, api.tagCalls)
}

func TestRunZeroTagsFailsWithoutIgnoreEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	spec := config.BuildSpec{
		Name: "app",
		Tags: []config.TagSpec{{Template: "stable", Selectors: []string{"^release$"}}},
	}

	api := &mockAPI{}
	b, err := builder.FromManifest(manifest(dir, spec), &config.Flags{Select: "nightly"}, nil, engine.NewWithAPI(api))
	require.NoError(t, err)
	assert.Error(t, b.Run(context.Background()))

	b, err = builder.FromManifest(manifest(dir, spec), &config.Flags{Select: "nightly", IgnoreEmpty: true}, nil, engine.NewWithAPI(api))
	require.NoError(t, err)
	assert.NoError(t, b.Run(context.Background()))

	assert.Zero(t, api.buildCalls)
}

func TestRunEngineFailureAbortsBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	api := &mockAPI{buildErr: errors.New("daemon unavailable")}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name:   "app",
		Source: config.SourceSpec{Tags: []string{"1.0", "2.0"}},
	}), &config.Flags{}, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	err = b.Run(context.Background())

	require.Error(t, err)
	// fail-fast: the second source tag is not attempted
	assert.Equal(t, 1, api.buildCalls)
}

func TestRunIgnoreEmptyDoesNotSuppressPushErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	api := &mockAPI{pushStream: `{"errorDetail":{"message":"denied"},"error":"denied"}`}
	flags := &config.Flags{Push: true, IgnoreEmpty: true}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{Name: "app"}), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	err = b.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestRunPushAfterAllSourceTags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")

	api := &mockAPI{}
	flags := &config.Flags{Push: true}
	b, err := builder.FromManifest(manifest(dir, config.BuildSpec{
		Name:   "app",
		Source: config.SourceSpec{Tags: []string{"1.0", "2.0"}},
	}), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 2, api.buildCalls)
	// one push for the whole repository, after both source tags
	assert.Equal(t, []string{"image-build/app"}, api.pushCalls)
}

func TestRunCrossBuildExclusions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "Dockerfile.j2", "FROM scratch\n")
	write(t, dir, "Dockerfile.other.j2", "FROM other\n")
	write(t, dir, "shared.txt", "shared\n")
	write(t, dir, "variants/1.0/extra.txt", "overlay\n")
	write(t, dir, "other-variants/x/leak.txt", "leak\n")

	api := &mockAPI{}
	// the override variant declares no tags, so app ends up with an
	// empty destination set and the run only passes when ignored
	flags := &config.Flags{DryRun: true, IgnoreEmpty: true}
	b, err := builder.FromManifest(manifest(dir,
		config.BuildSpec{Name: "app", Source: config.SourceSpec{Tags: []string{"1.0"}}},
		config.BuildSpec{Name: "other", TemplateFile: "Dockerfile.other.j2", VariantsDir: "other-variants"},
	), flags, nil, engine.NewWithAPI(api))
	require.NoError(t, err)

	var out bytes.Buffer
	b.SetOutput(&out)

	require.NoError(t, b.Run(context.Background()))

	// neither build's context lists the other's variant tree or
	// template, nor its own
	assert.Contains(t, out.String(), "shared.txt")
	assert.NotContains(t, out.String(), "leak.txt")
	assert.NotContains(t, out.String(), "Dockerfile.other.j2")
	assert.Contains(t, out.String(), "extra.txt")
}
