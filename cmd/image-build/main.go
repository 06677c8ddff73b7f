package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bedag/image-build/pkg/builder"
	"github.com/bedag/image-build/pkg/config"
)

var version string // Will be set dynamically at build time.
var appName string = "image-build"

var (
	flags        config.Flags
	printVersion bool
)

var cmd = &cobra.Command{
	Use:   appName + " [KEY=VALUE...]",
	Short: "Declarative multi-variant Docker image build helper.",
	Long: `Builds, tags and optionally pushes or exports Docker images from a
YAML build manifest, rendering Dockerfile templates per source tag and
per variant directory.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if printVersion {
			fmt.Printf("%s version: %s\n", appName, version)
			return nil
		}

		initLogger(flags.Verbose)

		vars, err := config.ParseVars(args)
		if err != nil {
			return err
		}

		if flags.DryRun {
			log.Info().Msg("Dry run enabled - no engine calls will be made.")
		}
		if flags.Push {
			log.Warn().Msg("Images will be pushed after building.")
		}
		if flags.Export {
			log.Warn().Msg("Images will be exported after building.")
		}

		log.Info().Str("manifest", flags.File).Msg("Loading")
		b, err := builder.New(&flags, vars)
		if err != nil {
			return err
		}

		return b.Run(cmd.Context())
	},
}

func init() {
	if version == "" {
		version = "development" // Fallback if not set during build
	}

	cmd.Flags().BoolVarP(&flags.DryRun, "dry-run", "d", false, "Do nothing, just print Dockerfiles and tags")
	cmd.Flags().BoolVarP(&flags.Push, "push", "p", false, "Push images after building")
	cmd.Flags().BoolVarP(&flags.Export, "export", "e", false, "Export images to file after building")
	cmd.Flags().BoolVarP(&flags.IgnoreEmpty, "ignore-empty", "i", false, "Ignore builds without applicable destination tags")
	cmd.Flags().StringVarP(&flags.File, "file", "f", config.DefaultManifestFile, "Name of the build manifest")
	cmd.Flags().StringVarP(&flags.Select, "select", "s", "", "String to select which tags to add/push/export")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Increase verbosity of output")
	cmd.Flags().BoolVarP(&printVersion, "version", "V", false, "Display the application version and exit")
}

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Build run failed")
		os.Exit(1)
	}
}

func initLogger(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()})
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
