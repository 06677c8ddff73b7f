// image-count verifies the number of local images whose tags match a
// regex, for use in CI assertions.
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bedag/image-build/pkg/engine"
)

var (
	expected int
	pattern  string
	negate   bool
	mode     string
)

var cmd = &cobra.Command{
	Use:           "image-count",
	Short:         "Check the number of present Docker images.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mode != "min" && mode != "max" && mode != "equal" {
			return fmt.Errorf("invalid mode %q, must be min, max or equal", mode)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}

		client, err := engine.New()
		if err != nil {
			return err
		}
		defer client.Close()

		images, err := client.List(context.Background())
		if err != nil {
			return err
		}

		var found []string
		for _, img := range images {
			tags := img.RepoTags
			if len(tags) == 0 {
				// untagged images still count once
				tags = []string{""}
			}
			for _, tag := range tags {
				if re.MatchString(tag) != negate {
					found = append(found, tag)
				}
			}
		}

		sort.Strings(found)
		for _, tag := range found {
			fmt.Println(tag)
		}

		count := len(found)
		ok := false
		switch mode {
		case "equal":
			ok = count == expected
		case "min":
			ok = count >= expected
		case "max":
			ok = count <= expected
		}
		if !ok {
			return fmt.Errorf("found %d matching tags, expected %s %d", count, mode, expected)
		}
		return nil
	},
}

func init() {
	cmd.Flags().IntVarP(&expected, "expected", "e", 1, "Expected number of tags to match")
	cmd.Flags().StringVarP(&pattern, "regex", "r", "^.*$", "Regex to match tags")
	cmd.Flags().BoolVarP(&negate, "negate", "n", false, "Invert the regexp")
	cmd.Flags().StringVar(&mode, "mode", "min", "Matched tag count must be at least (min), not more than (max) or equal to the expected number")
}

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
