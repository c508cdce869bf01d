package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/AegisPredict"
	"github.com/ghalamif/AegisPredict/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "trigger":
		err = triggerCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "latest":
		err = latestCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-predict %s: %v", cmd, err)
	}
}

func loadConfig(path string) (*aegispredict.Config, error) {
	cfg, err := aegispredict.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	plan, err := aegispredict.NewPlan(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return plan.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegispredict.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d machines, source=%s, sinks=%s\n",
		*cfgPath, len(cfg.Machines), cfg.Source.Mode, strings.Join(cfg.Sink.Modes, ","))
	return nil
}

// triggerCommand runs a single tick for every machine without the scheduler
// loop and reports the outcome per machine.
func triggerCommand(args []string) error {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	machine := fs.String("machine", "", "Only run the tick for this machine id")
	timeout := fs.Duration("timeout", time.Minute, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	rt, err := aegispredict.NewRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	if *machine != "" {
		rec, err := rt.TriggerMachine(ctx, *machine)
		if rec != nil {
			printRecord(rec)
		}
		return err
	}

	results := rt.Trigger(ctx)
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var failed int
	for _, id := range ids {
		if err := results[id]; err != nil {
			failed++
			fmt.Printf("%-12s FAILED %v\n", id, err)
			continue
		}
		fmt.Printf("%-12s ok\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d machines failed", failed, len(ids))
	}
	return nil
}

func printRecord(rec *aegispredict.PredictionRecord) {
	fmt.Printf("%s %s anomaly=%t score=%.4f type=%s maintenance=%s health=%.3f stages=%+v\n",
		rec.MachineID,
		rec.Timestamp.Format(time.RFC3339),
		rec.AnomalyFlag,
		rec.AnomalyScore,
		rec.AnomalyType,
		rec.MaintenanceForecast(),
		rec.HealthScore,
		rec.Stages,
	)
}

// latestCommand prints the newest stored predictions of one machine from the
// Redis result sink.
func latestCommand(args []string) error {
	fs := flag.NewFlagSet("latest", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	machine := fs.String("machine", "", "Machine id to look up")
	count := fs.Int64("n", 1, "Number of records to print, newest first")
	timeout := fs.Duration("timeout", 10*time.Second, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *machine == "" {
		return fmt.Errorf("-machine is required")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	recs, err := aegispredict.ReadLatest(ctx, cfg, *machine, *count)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Printf("no predictions stored for %s\n", *machine)
		return nil
	}
	for _, rec := range recs {
		printRecord(rec)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"aegis_ticks_total",
	"aegis_ticks_dropped_total",
	"aegis_predictions_written_total",
	"aegis_dlq_queue_length",
	"aegis_wal_size_bytes",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] ticks=%.0f dropped=%.0f written=%.0f dlq=%.0f wal_bytes=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["aegis_ticks_total"],
		values["aegis_ticks_dropped_total"],
		values["aegis_predictions_written_total"],
		values["aegis_dlq_queue_length"],
		values["aegis_wal_size_bytes"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`AegisPredict CLI

Usage:
  aegis-predict <command> [flags]

Commands:
  run        Start the scheduler and prediction pipeline using the provided config
  validate   Load and validate a config file without starting the runtime
  trigger    Run one tick for every machine (or -machine) and exit
  stats      Poll the Prometheus metrics endpoint and print live counters
  latest     Print the newest stored predictions of one machine (redis sink)

Examples:
  aegis-predict run -config ./data/config.yaml
  aegis-predict validate -config ./data/config.yaml
  aegis-predict trigger -config ./data/config.yaml -machine CNC_001
  aegis-predict stats -url http://localhost:9100/metrics -interval 1s
  aegis-predict latest -config ./data/config.yaml -machine CNC_001 -n 5
`)
}
