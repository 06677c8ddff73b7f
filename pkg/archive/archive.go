// Package archive assembles tar build contexts for the build engine.
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Context is a write-once tar stream: root files first, then an
// optional variant overlay, then the rendered build script.
type Context struct {
	buf    bytes.Buffer
	tw     *tar.Writer
	sealed bool
}

// New returns an empty build context.
func New() *Context {
	c := &Context{}
	c.tw = tar.NewWriter(&c.buf)
	return c
}

// AddDir appends the listed files from root, keeping their relative
// paths as archive names. Irregular files (sockets, devices) are
// skipped.
func (c *Context) AddDir(root string, files []string) error {
	if c.sealed {
		return fmt.Errorf("build context already sealed")
	}

	for _, file := range files {
		full := filepath.Join(root, file)
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}

		switch {
		case info.Mode().IsRegular():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(file)
			if err := c.tw.WriteHeader(header); err != nil {
				return err
			}
			f, err := os.Open(full)
			if err != nil {
				return err
			}
			_, err = io.Copy(c.tw, f)
			f.Close()
			if err != nil {
				return err
			}
		case info.IsDir():
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(file) + "/"
			if err := c.tw.WriteHeader(header); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			header, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(file)
			if err := c.tw.WriteHeader(header); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFile appends a synthetic entry, used for the rendered Dockerfile.
func (c *Context) AddFile(name string, content []byte) error {
	if c.sealed {
		return fmt.Errorf("build context already sealed")
	}

	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := c.tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := c.tw.Write(content)
	return err
}

// Reader seals the archive and returns the rewound stream.
func (c *Context) Reader() (io.Reader, error) {
	if !c.sealed {
		if err := c.tw.Close(); err != nil {
			return nil, err
		}
		c.sealed = true
	}
	return bytes.NewReader(c.buf.Bytes()), nil
}
