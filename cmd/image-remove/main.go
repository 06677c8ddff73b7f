// image-remove deletes all local images whose tags match a regex.
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/bedag/image-build/pkg/engine"
)

var (
	pattern string
	negate  bool
)

var cmd = &cobra.Command{
	Use:           "image-remove",
	Short:         "Remove all images with tags matching a given regex.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx := context.Background()
		for _, img := range images {
			tags := img.RepoTags
			if len(tags) == 0 {
				tags = []string{""}
			}
			for _, tag := range tags {
				if re.MatchString(tag) == negate {
					continue
				}
				ref := tag
				if ref == "" {
					// untagged images are removed by ID
					ref = img.ID
				}
				if err := client.Remove(ctx, ref); err != nil {
					return err
				}
				fmt.Println("Removed", ref)
			}
		}
		return nil
	},
}

func init() {
	cmd.Flags().StringVarP(&pattern, "regex", "r", "^.*$", "Regex to match tags")
	cmd.Flags().BoolVarP(&negate, "negate", "n", false, "Invert the regexp")
}

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
