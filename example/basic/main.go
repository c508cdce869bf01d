package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/AegisPredict"
)

// Fires a few manual ticks per machine and prints each record, so the
// maintenance forecast can be seen switching from insufficient_history to a
// value once the sequence window is full.
func main() {
	cfgPath := flag.String("config", "../../data/config.yaml", "Path to configuration file")
	machines := flag.String("machines", "CNC_001,CNC_002", "Comma separated machine ids")
	ticks := flag.Int("ticks", 12, "Ticks per machine")
	gap := flag.Duration("gap", time.Second, "Pause between ticks")
	flag.Parse()

	ids := strings.Split(*machines, ",")
	plan, err := aegispredict.LoadPlan(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := plan.PollMachines(ids...).Build()
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	for i := 1; i <= *ticks && ctx.Err() == nil; i++ {
		for _, id := range ids {
			rec, err := rt.TriggerMachine(ctx, id)
			if rec == nil {
				log.Printf("tick %d %s: %v", i, id, err)
				continue
			}
			fmt.Printf("#%02d %-8s health=%6.2f anomaly=%-5t type=%-12s maintenance=%s\n",
				i, rec.MachineID, rec.HealthScore, rec.AnomalyFlag, rec.AnomalyType, rec.MaintenanceForecast())
			if err != nil {
				log.Printf("tick %d %s not delivered yet: %v", i, id, err)
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(*gap):
		}
	}
	fmt.Printf("records waiting for redelivery: %d\n", rt.PendingDeadLetters())
}
