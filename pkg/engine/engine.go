// Package engine drives the container build engine through the Docker
// daemon API: build contexts in, streamed status events out.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog/log"
)

// successPattern is the classic builder's terminal marker. Its absence
// from the stream means the build did not produce an image.
var successPattern = regexp.MustCompile(`Successfully built ([0-9a-f]+)`)

// BuildError is a fatal event reported by the build engine, or a
// stream that ended without a success marker.
type BuildError struct {
	Message string
}

func (e *BuildError) Error() string {
	return e.Message
}

// Client wraps the Docker SDK client.
type Client struct {
	api API
}

// New connects to the daemon configured in the environment.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{api: cli}, nil
}

// NewWithAPI wraps a custom API implementation, used by tests.
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.api != nil {
		return c.api.Close()
	}
	return nil
}

// Build submits a build context and consumes the event stream. Log and
// status lines are surfaced at info level. A fatal event, or a stream
// without a success marker, yields a *BuildError. On success the built
// image's identifier is returned.
func (c *Client) Build(ctx context.Context, buildContext io.Reader) (string, error) {
	resp, err := c.api.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Remove: true,
	})
	if err != nil {
		return "", &BuildError{Message: err.Error()}
	}
	defer resp.Body.Close()

	imageID := ""
	err = consumeStream(resp.Body, func(msg jsonmessage.JSONMessage) {
		if match := successPattern.FindStringSubmatch(msg.Stream); match != nil {
			imageID = match[1]
		}
	})
	if err != nil {
		return "", err
	}
	if imageID == "" {
		return "", &BuildError{Message: "unknown build error"}
	}
	return imageID, nil
}

// Tag applies repository:tag to an image.
func (c *Client) Tag(ctx context.Context, imageID, repository, tag string) error {
	return c.api.ImageTag(ctx, imageID, repository+":"+tag)
}

// Push uploads every tag of a repository, relying on the ambient
// credential store for auth.
func (c *Client) Push(ctx context.Context, repository string) error {
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{})
	if err != nil {
		return err
	}

	stream, err := c.api.ImagePush(ctx, repository, image.PushOptions{
		All:          true,
		RegistryAuth: auth,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	return consumeStream(stream, nil)
}

// Save exports a repository's images as a tar stream into w.
func (c *Client) Save(ctx context.Context, repository string, w io.Writer) error {
	stream, err := c.api.ImageSave(ctx, []string{repository})
	if err != nil {
		return err
	}
	defer stream.Close()

	_, err = io.Copy(w, stream)
	return err
}

// List returns all local image summaries, including untagged ones.
func (c *Client) List(ctx context.Context) ([]image.Summary, error) {
	return c.api.ImageList(ctx, image.ListOptions{All: false})
}

// Remove force-deletes a local image by tag or ID.
func (c *Client) Remove(ctx context.Context, ref string) error {
	_, err := c.api.ImageRemove(ctx, ref, image.RemoveOptions{Force: true})
	return err
}

// consumeStream decodes engine progress events, logging each one. A
// message carrying an error payload aborts with a *BuildError.
func consumeStream(r io.Reader, observe func(jsonmessage.JSONMessage)) error {
	decoder := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &BuildError{Message: err.Error()}
		}

		switch {
		case msg.Error != nil:
			return &BuildError{Message: msg.Error.Message}
		case msg.Stream != "":
			if line := strings.TrimRight(msg.Stream, "\n"); line != "" {
				log.Info().Msg("  " + line)
			}
		case msg.Status != "":
			log.Info().Msg("  " + msg.Status)
		}

		if observe != nil {
			observe(msg)
		}
	}
}
