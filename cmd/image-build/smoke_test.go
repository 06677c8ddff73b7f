package main_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gruntwork-io/terratest/modules/logger"
	"github.com/gruntwork-io/terratest/modules/shell"
)

func cmd(args ...string) shell.Command {
	defaultArgs := []string{"run", "."}
	return shell.Command{
		Command: "go",
		Args:    append(defaultArgs, args...),
		Logger:  logger.Discard,
	}
}

// Simplest possible test, just print version and exit
// Should not fail
func TestPrintVersion(t *testing.T) {
	t.Parallel()

	cmd := cmd("-V")

	out, err := shell.RunCommandAndGetOutputE(t, cmd)
	assert.Nil(t, err)
	assert.Contains(t, out, "development")
}

func TestFailOnMissingManifest(t *testing.T) {
	t.Parallel()

	cmd := cmd("--dry-run", "-f", "testdata/no-such-manifest.yml")

	_, err := shell.RunCommandAndGetOutputE(t, cmd)
	assert.NotNil(t, err)
}

func TestFailOnBareWordVariable(t *testing.T) {
	t.Parallel()

	cmd := cmd("--dry-run", "-f", "testdata/image-build.yml", "notakeyvalue")

	out, err := shell.RunCommandAndGetOutputE(t, cmd)
	assert.NotNil(t, err)
	assert.Contains(t, out, "KEY=VALUE")
}

// Dry run renders both source tags without touching any engine:
// the primary tag gets "latest", the variant source tag's override
// replaces the root tags with its own "-slim" tag.
func TestDryRun(t *testing.T) {
	t.Parallel()

	cmd := cmd("--dry-run", "-f", "testdata/image-build.yml")

	out, err := shell.RunCommandAndGetOutputE(t, cmd)
	assert.Nil(t, err)

	assert.Contains(t, out, "Source: library/alpine:3.20")
	assert.Contains(t, out, "Source: library/alpine:3.21")
	assert.Contains(t, out, "latest")
	assert.Contains(t, out, "3.21-slim")
	assert.Contains(t, out, "FROM library/alpine:3.20")
	assert.Contains(t, out, "LABEL maintainer=\"platform-team\"")
	// the override Dockerfile prepends the rendered root script
	assert.Contains(t, out, "RUN apk del --purge build-deps")
	assert.Contains(t, out, "entrypoint.sh")
}

func TestDryRunSelectFilter(t *testing.T) {
	t.Parallel()

	cmd := cmd("--dry-run", "-f", "testdata/image-build.yml", "-s", "nothing-matches")

	out, err := shell.RunCommandAndGetOutputE(t, cmd)
	// tags without selectors are unaffected by the filter
	assert.Nil(t, err)
	assert.Contains(t, out, "latest")
}
