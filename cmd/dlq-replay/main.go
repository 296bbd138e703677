// Command dlq-replay lists dead-lettered jobs and puts them back on their
// original queue.
//
//	dlq-replay -list [-n 50]
//	dlq-replay -replay <task-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"chatflow_backend/internal/queue"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
)

func main() {
	list := flag.Bool("list", false, "list dead-lettered jobs")
	limit := flag.Int("n", 50, "maximum number of jobs to list")
	replay := flag.String("replay", "", "task id of the dead-lettered job to replay")
	flag.Parse()

	if !*list && *replay == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadBroker()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	rdb, err := queue.NewRedisClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	manager, err := queue.NewManager(cfg, rdb, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "queue:", err)
		os.Exit(1)
	}
	defer func() { _ = manager.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *replay != "" {
		id, err := manager.ReplayDeadLetter(ctx, *replay)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		fmt.Printf("replayed %s as job %s\n", *replay, id)
		return
	}

	entries, err := manager.ListDeadLetters(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("dead-letter queue is empty")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tTYPE\tORIGIN\tATTEMPTS\tDEAD-LETTERED\tREASON")
	for _, e := range entries {
		at := "-"
		if !e.DeadLetteredAt.IsZero() {
			at = e.DeadLetteredAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.TaskID, e.Job.Type, e.OriginQueue, e.Job.Attempt+1, at, e.Reason)
	}
	_ = w.Flush()
}
