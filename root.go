package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hbomb79/hevcify/internal/config"
	"github.com/hbomb79/hevcify/internal/convert"
	"github.com/hbomb79/hevcify/internal/ffmpeg"
	"github.com/hbomb79/hevcify/pkg/docker"
	"github.com/hbomb79/hevcify/pkg/logger"
	"github.com/spf13/cobra"
)

var log = logger.Get("Hevcify")

type flags struct {
	configPath string
	verbose    bool
	noPull     bool
	dryRun     bool
}

func newRootCommand() *cobra.Command {
	opts := &flags{}

	rootCmd := &cobra.Command{
		Use:   "hevcify [flags] <input path...>",
		Short: "Re-encode a video file to HEVC using ffmpeg inside of docker",
		Long: "Re-encode a video file to HEVC using a hardware accelerated ffmpeg container.\n" +
			"All arguments are joined with spaces to form the input path.\n\n" + config.Usage(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configOptional := !cmd.Flags().Changed("config")
			return run(cmd.Context(), opts, configOptional, strings.Join(args, " "))
		},
	}

	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Configuration file path")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&opts.noPull, "no-pull", false, "Skip pulling the ffmpeg image")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the ffmpeg command without encoding or removing any files")

	return rootCmd
}

// execute runs the root command with the arguments provided, returning the
// process exit code.
func execute(ctx context.Context, args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Emit(logger.STOP, "Interrupted\n")
		} else {
			log.Emit(logger.FATAL, "%v\n", err)
		}

		return 1
	}

	return 0
}

func run(ctx context.Context, opts *flags, configOptional bool, inputPath string) error {
	if opts.verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	cfg, err := config.Load(opts.configPath, configOptional)
	if err != nil {
		return err
	}

	cli, err := docker.NewClient()
	if err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	defer cli.Close()

	runtime := docker.NewRuntime(cli, docker.Options{PullAttempts: cfg.PullAttempts, RemoveTimeout: cfg.StopTimeout + 10*time.Second})
	defer func() {
		pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := runtime.Prune(pruneCtx); err != nil {
			log.Emit(logger.WARNING, "Failed to prune containers: %v\n", err)
		}
	}()

	if !opts.noPull && !cfg.SkipPull {
		if err := runtime.Pull(ctx, cfg.ImageRef()); err != nil {
			return err
		}
	}

	toolkit := ffmpeg.NewToolkit(runtime, cfg.Config, cfg.StopTimeout)
	converter := convert.New(toolkit, toolkit, convert.NewProgressReporter(os.Stdout, 10), convert.Options{
		SizeThreshold:      cfg.SizeThreshold,
		DurationTolerance:  cfg.DurationTolerance,
		PurgeTrivialInputs: cfg.PurgeTrivialInputs,
		OwnerUID:           cfg.OwnerUID,
		OwnerGID:           cfg.OwnerGID,
		DryRun:             opts.dryRun,
	})

	result, err := converter.Run(ctx, inputPath)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case convert.AlreadyConverted:
		log.Emit(logger.SUCCESS, "Skipping %s: already converted (%s)\n", result.Paths.Input, result.Reason)
	case convert.DurationMismatch:
		log.Emit(logger.WARNING, "Converted %s, but the output duration does not match. Input retained\n", result.Paths.Input)
	case convert.DryRun:
		log.Emit(logger.SUCCESS, "Dry run of %s complete\n", result.Paths.Input)
	default:
		log.Emit(logger.SUCCESS, "Done: %s -> %s\n", result.Paths.Input, result.Paths.Output)
	}

	log.Emit(logger.INFO, "Elapsed time: %s (started %s)\n", result.Elapsed.Round(time.Second), humanize.Time(time.Now().Add(-result.Elapsed)))
	return nil
}
