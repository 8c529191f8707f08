// Command replay runs one scheduling trigger against the configured database and
// prints its summary. It is the manual counterpart of the cron jobs, e.g. for
// backfilling a month after an outage:
//
//	replay -op batch -year 2024 -month 3
//	replay -op batch -year 2024 -month 3 -control 17
//	replay -op lookahead
//	replay -op sweep
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/infra/config"
	idb "compliance_scheduler/internal/infra/database"
	"compliance_scheduler/internal/infra/logger"
)

func main() {
	op := flag.String("op", "", "operation: lookahead, batch, control, recent or sweep")
	year := flag.Int("year", 0, "year for -op batch")
	month := flag.Int("month", 0, "month (1-12) for -op batch")
	controlID := flag.Int64("control", 0, "limit -op batch to one control; required for -op control")
	since := flag.Duration("since", 24*time.Hour, "look-back for -op recent")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger.Init(cfg)
	log := logger.Component("replay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()

	driver := app.NewDriver(idb.NewPostgresControlRepository(db), idb.NewPostgresInstanceRepository(db), cfg.Location(), logger.Component("driver"))

	var summary app.RunSummary
	switch *op {
	case "lookahead":
		summary, err = driver.RunLookAheadGeneration(ctx)
	case "batch":
		var id *int64
		if *controlID > 0 {
			id = controlID
		}
		summary, err = driver.RunMonthBatch(ctx, *year, time.Month(*month), id)
	case "control":
		summary, err = driver.RunForControl(ctx, *controlID)
	case "recent":
		summary, err = driver.RunRecentlyChanged(ctx, time.Now().Add(-*since))
	case "sweep":
		summary, err = driver.RunExpirySweep(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("Run aborted")
		fmt.Println(summary)
		os.Exit(1)
	}

	fmt.Printf("run %s\n%s\n", summary.RunID, summary)
	if !summary.OK() {
		os.Exit(1)
	}
}
