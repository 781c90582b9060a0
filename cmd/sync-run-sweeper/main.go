package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/squaresync"
)

// One-shot sweeper for sync runs left in processing by a crashed or evicted
// worker. Meant to run on a schedule (Cloud Scheduler / cron).
func main() {
	olderThan := flag.Duration("older-than", time.Hour, "Mark processing runs older than this as failed.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	swept, err := squaresync.SweepAbandonedRuns(context.Background(), db, *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Swept %d abandoned sync run(s) older than %s\n", swept, olderThan.String())
}
