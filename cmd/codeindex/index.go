package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/codeindex"
)

var (
	flagFull     bool
	flagPriority int
	flagNoWait   bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a codebase",
	Long:  "Registers the directory as a codebase if needed and runs an index job. Without --full only new and changed files are reprocessed.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagFull, "full", false, "reprocess every file")
	indexCmd.Flags().IntVar(&flagPriority, "priority", 5, "job priority 1-10")
	indexCmd.Flags().BoolVar(&flagNoWait, "no-wait", false, "print the queued job and exit")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	target, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	e, err := openEngine(target)
	if err != nil {
		return outputError("index", err)
	}
	defer e.Close()

	cb, err := e.RegisterCodebase(target)
	if err != nil {
		return outputError("index", err)
	}
	jobType := codeindex.JobIncrementalUpdate
	if flagFull || cb.Status == codeindex.StatusUnindexed {
		jobType = codeindex.JobFullIndex
	}
	job, err := e.SubmitIndexJob(cb.ID, jobType, flagPriority)
	if err != nil {
		return outputError("index", err)
	}
	if !flagNoWait {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		job, err = e.WaitJob(ctx, job.ID)
		if err != nil {
			if _, cerr := e.CancelJob(job.ID); cerr == nil {
				job, _ = e.WaitJob(context.Background(), job.ID)
			}
			return outputError("index", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Indexed %s in %s (%d files, %d failed)\n",
		target, time.Since(start).Round(time.Millisecond), job.FilesProcessed, job.FilesFailed)
	if job.Status == codeindex.JobFailed {
		return outputError("index", fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage))
	}
	return outputResult(CLIResult{Command: "index", Results: job})
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Reindex a codebase whenever its files change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	target, err := resolveTargetDir(args)
	if err != nil {
		return outputError("watch", err)
	}
	e, err := openEngine(target)
	if err != nil {
		return outputError("watch", err)
	}
	defer e.Close()

	cb, err := e.RegisterCodebase(target)
	if err != nil {
		return outputError("watch", err)
	}
	switch cb.Status {
	case codeindex.StatusIndexed:
	case codeindex.StatusPartial:
		if _, err := e.SubmitIndexJob(cb.ID, codeindex.JobIncrementalUpdate, codeindex.MaxPriority); err != nil {
			return outputError("watch", err)
		}
	default:
		if _, err := e.SubmitIndexJob(cb.ID, codeindex.JobFullIndex, codeindex.MaxPriority); err != nil {
			return outputError("watch", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	enc := json.NewEncoder(os.Stdout)
	err = e.Watch(ctx, cb.ID, func(j codeindex.IndexJob) {
		if flagFormat == "text" {
			fmt.Fprintf(os.Stdout, "queued %s job %s\n", j.JobType, j.ID)
			return
		}
		_ = enc.Encode(j)
	})
	if err != nil && ctx.Err() == nil {
		return outputError("watch", err)
	}
	return nil
}

var flagJobsCodebase string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List index jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&flagJobsCodebase, "codebase", "", "only jobs of this codebase id")
}

func runJobs(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("jobs", err)
	}
	defer e.Close()
	jobs, err := e.ListJobs(flagJobsCodebase)
	if err != nil {
		return outputError("jobs", err)
	}
	n := len(jobs)
	return outputResult(CLIResult{Command: "jobs", Results: jobs, TotalCount: &n})
}
