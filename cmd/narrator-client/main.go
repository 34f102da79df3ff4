// main package for the page-narrator command line client
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/page-narrator/internal/config"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/worker"
	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const (
	defaultTimeout = 10 * time.Second
	defaultPoll    = 2 * time.Second
	defaultMaxWait = 30 * time.Minute
	defaultLimit   = 20
)

// options holds the flags shared by every subcommand.
type options struct {
	natsURL string
	bucket  string
	timeout time.Duration
	poll    time.Duration
	maxWait time.Duration
	wait    bool
	limit   int
	offset  int
	output  string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "narrator-client",
		Short:         "Submit documents to the page-narrator and follow their jobs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url", config.DefaultNATSURL, "NATS server URL")
	rootCmd.PersistentFlags().StringVar(&opts.bucket, "bucket", config.DefaultBucket, "object store bucket for uploads")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "timeout for each request")
	rootCmd.PersistentFlags().DurationVar(&opts.poll, "poll", defaultPoll, "status poll interval while waiting")
	rootCmd.PersistentFlags().DurationVar(&opts.maxWait, "max-wait", defaultMaxWait, "longest time to wait for a job")

	submitCmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Upload a PDF and queue a narration job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, client *narratorClient) error {
				id, size, err := client.submit(ctx, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s) as job %s\n", args[0], humanize.Bytes(uint64(size)), id)

				if !opts.wait {
					return nil
				}

				return awaitAndPrint(ctx, cmd.OutOrStdout(), client, id, opts)
			})
		},
	}
	submitCmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait for the job to finish")

	statusCmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, client *narratorClient) error {
				current, err := client.status(ctx, args[0])
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), current)
			})
		},
	}

	awaitCmd := &cobra.Command{
		Use:   "await <job-id>",
		Short: "Wait until a job is completed or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, client *narratorClient) error {
				return awaitAndPrint(ctx, cmd.OutOrStdout(), client, args[0], opts)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, client *narratorClient) error {
				jobs, err := client.list(ctx, opts.limit, opts.offset)
				if err != nil {
					return err
				}

				for _, current := range jobs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
						current.ID, current.Status, current.Stage, current.Filename,
						humanize.Time(current.UpdatedAt))
				}

				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&opts.limit, "limit", defaultLimit, "maximum number of jobs")
	listCmd.Flags().IntVar(&opts.offset, "offset", 0, "number of jobs to skip")

	downloadCmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Save the video of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), opts, func(ctx context.Context, client *narratorClient) error {
				data, key, err := client.download(ctx, args[0])
				if err != nil {
					return err
				}

				path := opts.output
				if path == "" {
					path = filepath.Base(key)
				}

				writeErr := os.WriteFile(path, data, 0o644)
				if writeErr != nil {
					return fmt.Errorf("failed to write %s: %w", path, writeErr)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) to %s\n", key, humanize.Bytes(uint64(len(data))), path)

				return nil
			})
		},
	}
	downloadCmd.Flags().StringVarP(&opts.output, "output", "o", "", "file to write (default: the video's name)")

	rootCmd.AddCommand(submitCmd, statusCmd, awaitCmd, listCmd, downloadCmd)

	return rootCmd
}

func withClient(
	ctx context.Context,
	opts *options,
	fn func(ctx context.Context, client *narratorClient) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := nats.Connect(opts.natsURL, nats.Timeout(opts.timeout))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", opts.natsURL, err)
	}
	defer conn.Close()

	return fn(ctx, &narratorClient{
		conn: conn,
		subjects: worker.Subjects{
			Submit: config.DefaultSubmitSubject,
			Status: config.DefaultStatusSubject,
			List:   config.DefaultListSubject,
		},
		bucket:  opts.bucket,
		timeout: opts.timeout,
	})
}

func awaitAndPrint(ctx context.Context, out io.Writer, client *narratorClient, id string, opts *options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.maxWait)
	defer cancel()

	finished, err := client.await(ctx, id, opts.poll)
	if err != nil {
		return err
	}

	printErr := printJSON(out, finished)
	if printErr != nil {
		return printErr
	}

	if finished.Status == job.StatusFailed {
		return fmt.Errorf("%w: %s: %v", errFailed, id, finished.Error)
	}

	return nil
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(value)
	if encodeErr != nil {
		return fmt.Errorf("failed to print: %w", encodeErr)
	}

	return nil
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	if err != nil {
		os.Exit(1)
	}
}
