// Command platereport replays recorded detector output through the
// plate pipeline and writes the results to CSV and/or a sqlite run
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/plate.report/internal/alpr/pipeline"
	"github.com/banshee-data/plate.report/internal/alpr/replay"
	"github.com/banshee-data/plate.report/internal/alpr/storage/sqlite"
	"github.com/banshee-data/plate.report/internal/config"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/version"
)

func main() {
	inputPath := flag.String("input", "", "Replay JSONL file of per-frame detections (required)")
	csvPath := flag.String("csv", "", "CSV output path (optional)")
	dbPath := flag.String("db", "", "Sqlite run database path (optional)")
	configPath := flag.String("config", "", "Tuning config JSON (defaults to built-in defaults)")
	debug := flag.Bool("debug", false, "Enable diagnostic and trace logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	migrateForce := flag.Int("migrate-force", -1, "Force the -db migration version and exit (recovers a dirty migration state)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("platereport %s\n", version.String())
		return
	}

	if *migrateForce >= 0 {
		if *dbPath == "" {
			fmt.Fprintln(os.Stderr, "platereport: -migrate-force requires -db")
			os.Exit(2)
		}
		if err := forceMigration(*dbPath, *migrateForce); err != nil {
			log.Fatalf("platereport: %v", err)
		}
		return
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "platereport: -input is required")
		flag.Usage()
		os.Exit(2)
	}
	if *csvPath == "" && *dbPath == "" {
		fmt.Fprintln(os.Stderr, "platereport: need at least one of -csv or -db")
		os.Exit(2)
	}

	if *debug {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	log.Printf("platereport %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *inputPath, *csvPath, *dbPath, *configPath); err != nil {
		log.Fatalf("platereport: %v", err)
	}
}

func forceMigration(dbPath string, version int) error {
	database, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.MigrateForce(version); err != nil {
		return err
	}
	log.Printf("forced migration version to %d on %s", version, dbPath)
	return nil
}

func run(ctx context.Context, inputPath, csvPath, dbPath, configPath string) error {
	cfg := config.EmptyTuningConfig()
	if configPath != "" {
		loaded, err := config.LoadTuningConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	source, err := replay.Open(inputPath)
	if err != nil {
		return err
	}
	log.Printf("loaded %d frames from %s", len(source.Frames()), inputPath)

	var sinks pipeline.MultiSink

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("failed to create CSV output: %w", err)
		}
		csvSink, err := pipeline.NewCSVSink(f)
		if err != nil {
			f.Close()
			return err
		}
		sinks = append(sinks, csvSink)
	}

	var store *sqlite.Store
	if dbPath != "" {
		database, err := db.NewDB(dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.MigrateUp(); err != nil {
			return err
		}
		store, err = sqlite.NewStore(ctx, database, inputPath)
		if err != nil {
			return err
		}
		log.Printf("recording run %s to %s", store.RunID(), dbPath)
		sinks = append(sinks, store)
	}

	driver, err := pipeline.New(cfg, source, sinks)
	if err != nil {
		return err
	}

	for _, frame := range source.Frames() {
		if err := ctx.Err(); err != nil {
			log.Printf("interrupted at frame %d", frame.Index)
			break
		}
		if err := driver.ProcessFrame(ctx, frame); err != nil {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}
	}

	if store != nil {
		store.SetFrames(driver.Stats().FramesProcessed)
	}
	if err := driver.Close(); err != nil {
		return err
	}

	stats := driver.Stats()
	log.Printf("processed %d frames: %d tracks created, %d confirmed, %d reads accepted, %d rejected",
		stats.FramesProcessed, stats.Tracker.TracksCreated, stats.Tracker.TracksConfirmed,
		stats.ReadsAccepted, stats.ReadsRejected)

	if store != nil {
		plates, err := store.PublishedPlates()
		if err != nil {
			return err
		}
		for _, p := range plates {
			log.Printf("track %d: %s (support %.2f, frames %d-%d)",
				p.TrackID, p.PlateText, p.Support, p.FirstFrame, p.LastFrame)
		}
		log.Printf("%d published plates", len(plates))
	}

	return nil
}
