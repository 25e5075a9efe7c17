// One-shot sweep for cron-style deployments: requeues or dead-letters
// expired jobs, repairs stalled runs, and clears expired stage results.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ordersight/ordersight-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	requeued, dead, err := a.Services.JobSweeper.SweepExpired(ctx)
	if err != nil {
		a.Log.Error("job sweep failed", "error", err)
		os.Exit(1)
	}
	recovered, err := a.Services.RunSweeper.RecoverStalled(ctx)
	if err != nil {
		a.Log.Error("stalled run sweep failed", "error", err)
		os.Exit(1)
	}
	cleared, err := a.Services.RunSweeper.ClearExpiredResults(ctx)
	if err != nil {
		a.Log.Error("result cleanup failed", "error", err)
		os.Exit(1)
	}

	a.Log.Info("sweep complete",
		"jobs_requeued", requeued, "jobs_dead", dead,
		"runs_recovered", recovered, "results_cleared", cleared)
}
