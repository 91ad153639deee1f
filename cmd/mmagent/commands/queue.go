package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/FFTY50/micromanager-pos-sub000/internal/bytesize"
	"github.com/FFTY50/micromanager-pos-sub000/internal/cli/output"
	"github.com/FFTY50/micromanager-pos-sub000/internal/cli/prompt"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/config"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/queue"
)

var (
	queueListLimit  int
	queueListOutput string
	queuePurgeForce bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the outbound queue",
	Long: `Inspect and manage the on-disk outbound queue.

The queue holds payloads that have not yet been accepted by the upstream
intake. Run these commands while the agent is stopped, or accept that a
running agent may deliver jobs between listing and purging.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending jobs",
	Long: `List pending jobs in the outbound queue, oldest first.

Examples:
  # Show the 20 oldest pending jobs
  mmagent queue list

  # Show more, as JSON
  mmagent queue list --limit 100 --output json`,
	RunE: runQueueList,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every pending job",
	Long: `Remove every pending job from the outbound queue.

Purged payloads are gone; the upstream intake will never receive them.

Examples:
  mmagent queue purge
  mmagent queue purge --force`,
	RunE: runQueuePurge,
}

func init() {
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 20, "Maximum number of jobs to show")
	queueListCmd.Flags().StringVarP(&queueListOutput, "output", "o", "table", "Output format (table|json|yaml)")
	queuePurgeCmd.Flags().BoolVar(&queuePurgeForce, "force", false, "Skip confirmation prompt")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queuePurgeCmd)
}

// openQueue opens the queue named by the configuration. The caller must
// Close it.
func openQueue() (*queue.Queue, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(queue.Config{Path: cfg.Queue.Path})
	if err != nil {
		return nil, err
	}
	if q.InMemory() {
		_ = q.Close()
		return nil, fmt.Errorf("queue database could not be opened at %s", cfg.Queue.Path)
	}
	return q, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(queueListOutput)
	if err != nil {
		return err
	}

	q, err := openQueue()
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	jobs, err := q.List(ctx, queueListLimit)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depth: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, jobs)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	now := time.Now()
	table := output.NewTableData("ID", "Topic", "Size", "Attempts", "Age", "Next attempt")
	for _, job := range jobs {
		table.AddRow(
			strconv.FormatUint(job.ID, 10),
			job.Topic,
			bytesize.ByteSize(len(job.Body)).String(),
			strconv.Itoa(job.Attempts),
			now.Sub(time.Unix(job.CreatedAt, 0)).Round(time.Second).String(),
			describeEligibility(job.NextEligible, now),
		)
	}
	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}

	if int64(len(jobs)) < depth {
		fmt.Printf("\nShowing %d of %d pending jobs\n", len(jobs), depth)
	}
	return nil
}

func describeEligibility(nextEligible int64, now time.Time) string {
	at := time.Unix(nextEligible, 0)
	if !at.After(now) {
		return "due"
	}
	return "in " + at.Sub(now).Round(time.Second).String()
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	depth, err := q.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depth: %w", err)
	}
	if depth == 0 {
		fmt.Println("Queue is already empty")
		return nil
	}

	ok, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Permanently delete %d undelivered payload(s)?", depth), queuePurgeForce)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Aborted")
		return nil
	}

	removed, err := q.Purge(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	fmt.Printf("Removed %d job(s)\n", removed)
	return nil
}
