package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisPredict"
)

func main() {
	plan, err := aegispredict.LoadPlan("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, rec aegispredict.PredictionRecord) error {
		fmt.Printf("%s machine=%s anomaly=%t type=%s maintenance=%s health=%.3f\n",
			rec.Timestamp.Format(time.RFC3339),
			rec.MachineID,
			rec.AnomalyFlag,
			rec.AnomalyType,
			rec.MaintenanceForecast(),
			rec.HealthScore,
		)
		return nil
	}

	if err := plan.OnRecord("stdout", callback).Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
