package engine_test

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/bedag/image-build/pkg/engine"
)

// mockAPI is a canned-response engine.API for tests.
type mockAPI struct {
	buildStream string
	buildErr    error
	pushStream  string
	images      []image.Summary

	buildCalls  int
	tagCalls    []string
	pushCalls   []string
	saveCalls   [][]string
	removeCalls []string
}

var _ engine.API = (*mockAPI)(nil)

func (m *mockAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	m.buildCalls++
	if m.buildErr != nil {
		return build.ImageBuildResponse{}, m.buildErr
	}
	// drain the context like the daemon would
	_, _ = io.Copy(io.Discard, buildContext)
	return build.ImageBuildResponse{
		Body: io.NopCloser(strings.NewReader(m.buildStream)),
	}, nil
}

func (m *mockAPI) ImageTag(ctx context.Context, source, target string) error {
	m.tagCalls = append(m.tagCalls, source+" -> "+target)
	return nil
}

func (m *mockAPI) ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	m.pushCalls = append(m.pushCalls, ref)
	return io.NopCloser(strings.NewReader(m.pushStream)), nil
}

func (m *mockAPI) ImageSave(ctx context.Context, imageIDs []string, saveOpts ...client.ImageSaveOption) (io.ReadCloser, error) {
	m.saveCalls = append(m.saveCalls, imageIDs)
	return io.NopCloser(strings.NewReader("tar-bytes")), nil
}

func (m *mockAPI) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	return m.images, nil
}

func (m *mockAPI) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	m.removeCalls = append(m.removeCalls, imageID)
	return nil, nil
}

func (m *mockAPI) Close() error {
	return nil
}
