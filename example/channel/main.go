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

// Pushes readings from an external producer and consumes records from a channel.
func main() {
	plan, err := aegispredict.LoadPlan("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := aegispredict.NewExternalSource(2 * time.Minute)
	go produce(ctx, src, "CNC_001")

	sink, records, closeRecords := aegispredict.NewChannelSink("alerts", 32)
	defer closeRecords()
	go alertWorker(records)

	err = plan.
		ReadExternal(src).
		WriteTo(sink).
		Run(ctx)
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func produce(ctx context.Context, src *aegispredict.ExternalSource, machineID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := src.Publish(aegispredict.Reading{
				MachineID:         machineID,
				Timestamp:         now,
				VibrationRMS:      2.1,
				MotorTempC:        61,
				SpindleCurrentA:   12.4,
				RPM:               2400,
				ToolUsageMin:      180,
				CoolantTempC:      24,
				CuttingForceN:     410,
				PowerConsumptionW: 5200,
				AcousticLevelDB:   72,
			})
			if err != nil {
				log.Printf("publish: %v", err)
			}
		}
	}
}

func alertWorker(records <-chan aegispredict.PredictionRecord) {
	for rec := range records {
		if !rec.AnomalyFlag {
			continue
		}
		fmt.Printf("[alert] %s %s anomaly=%s health=%.2f\n",
			rec.Timestamp.Format(time.RFC3339), rec.MachineID, rec.AnomalyType, rec.HealthScore)
	}
}
