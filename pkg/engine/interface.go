package engine

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// API is the subset of the Docker SDK client this tool drives. Keeping
// it an interface lets tests inject mocks without a running daemon.
type API interface {
	// ImageBuild submits a tar build context and streams progress.
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)

	// ImageTag points a repository:tag reference at an image.
	ImageTag(ctx context.Context, source, target string) error

	// ImagePush uploads a reference, streaming progress.
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)

	// ImageSave exports images as a tar stream.
	ImageSave(ctx context.Context, imageIDs []string, saveOpts ...client.ImageSaveOption) (io.ReadCloser, error)

	// ImageList returns local image summaries.
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)

	// ImageRemove deletes a local image.
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)

	// Close closes the client connection.
	Close() error
}

// The SDK client must keep satisfying the interface.
var _ API = (*client.Client)(nil)
