// Command fastdata-drain retrieves every core's regions back from its
// board over Fast Data-Out, grounded on cmd/canopen_http and
// cmd/sdo_client's flag-based, logrus-configured idiom.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/cortexmesh/fastdata/pkg/adapters"
	"github.com/cortexmesh/fastdata/pkg/config"
	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fastdataout"
	"github.com/cortexmesh/fastdata/pkg/scheduler"
	"github.com/cortexmesh/fastdata/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to an ini file with the [timing] section")
	placementsPath := flag.String("placements", "", "path to a JSON placements file (required)")
	storageDSN := flag.String("storage", "fastdata.db", "DSN for the SQLite storage backend")
	migrationsDir := flag.String("migrations", "", "path to the storage schema migrations directory")
	outputDir := flag.String("output-dir", "drained", "directory to write retrieved region bytes into")
	reportDir := flag.String("report-dir", "", "directory to write the per-run TSV transfer report into")
	dryRun := flag.Bool("dry-run", false, "use an in-memory mock transceiver instead of a real machine")
	appID := flag.Int("app-id", 30, "application id the storage backend was opened with")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	runID := xid.New().String()
	log.WithField("run", runID).Info("fastdata-drain starting")

	if *placementsPath == "" {
		log.Fatal("fastdata-drain: -placements is required")
	}

	timing := config.DefaultTiming
	if *configPath != "" {
		t, err := config.LoadTiming(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load timing configuration")
		}
		timing = t
	}

	placements, err := config.LoadPlacements(*placementsPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load placements")
	}

	ctx := context.Background()
	storage, err := adapters.OpenSQLiteStorage(ctx, *storageDSN, *migrationsDir, uint8(*appID))
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer storage.Close()

	var transceiver adapters.Transceiver
	if *dryRun {
		transceiver = adapters.NewMockTransceiver(0x70000000)
	} else {
		log.Fatal("fastdata-drain: a real transceiver is an external collaborator not implemented by this repository; run with -dry-run")
	}

	downloadCfg := fastdataout.Config{
		ReceiveTimeout:    timing.SDOOutTimeout,
		TimeoutRetryLimit: timing.SDOOutRetryLimit,
		DelayPerSend:      timing.DelayPerSend,
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create output directory")
	}

	report := &drainReport{}
	tasks := buildDrainTasks(placements, storage, transceiver, downloadCfg, timing.SmallRetrieveThreshold, *outputDir, runID, report)

	sched := scheduler.New(timing.ParallelSize)
	start := time.Now()
	runErr := sched.Run(ctx, tasks)
	elapsed := time.Since(start)

	if *reportDir != "" {
		if err := writeDrainReport(*reportDir, runID, report.rows, elapsed); err != nil {
			log.WithError(err).Warn("failed to write transfer report")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Fatal("fastdata-drain completed with errors")
	}
	log.WithField("run", runID).WithField("elapsed", elapsed).Info("fastdata-drain finished")
}

// drainReport accumulates one row per region retrieved, across
// concurrently-running board tasks.
type drainReport struct {
	mu   sync.Mutex
	rows []reportRow
}

type reportRow struct {
	board string
	core  coord.CoreAddress
	slot  int
	bytes int
}

func (r *drainReport) add(row reportRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func writeDrainReport(dir, runID string, rows []reportRow, elapsed time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("drain-%s.tsv", runID))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	defer w.Flush()

	_ = w.Write([]string{"board", "core", "slot", "bytes", "duration_ms"})
	durationMs := fmt.Sprintf("%d", elapsed.Milliseconds())
	for _, r := range rows {
		_ = w.Write([]string{r.board, r.core.String(), fmt.Sprintf("%d", r.slot), fmt.Sprintf("%d", r.bytes), durationMs})
	}
	return nil
}

func buildDrainTasks(placements config.Placements, storage adapters.Storage, tr adapters.Transceiver, cfg fastdataout.Config, smallRetrieveThreshold uint32, outputDir, runID string, report *drainReport) []scheduler.Task {
	var tasks []scheduler.Task
	for _, b := range placements.Boards {
		b := b
		tasks = append(tasks, scheduler.Task{
			Label: b.Label,
			Run: func(ctx context.Context) error {
				return drainBoard(ctx, b, storage, tr, cfg, smallRetrieveThreshold, outputDir, runID, report)
			},
		})
	}
	return tasks
}

func drainBoard(ctx context.Context, b config.PlacementBoard, storage adapters.Storage, tr adapters.Transceiver, cfg fastdataout.Config, smallRetrieveThreshold uint32, outputDir, runID string, report *drainReport) error {
	ep, err := transport.Dial(b.Host, 0, nil, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.Label, err)
	}
	defer ep.Close()

	txIDs := &fastdataout.TxIDAllocator{}
	downloader := fastdataout.New(ep, txIDs, cfg, nil)

	for _, c := range b.Cores {
		if c.SystemOK {
			continue
		}
		core := coord.CoreAddress{X: c.X, Y: c.Y, P: c.P}
		pointers, err := storage.RegionPointersAndContent(core)
		if err != nil {
			return fmt.Errorf("region pointers for %s: %w", core, err)
		}

		for _, slot := range sortedSlots(pointers) {
			rc := pointers[slot]
			size := regionSize(b, c, slot)
			if size == 0 {
				continue
			}
			log.WithField("run", runID).WithField("core", core.String()).WithField("slot", slot).Info("draining region")

			var content []byte
			if size < smallRetrieveThreshold {
				content, err = tr.ReadMemory(core.Chip(), rc.Pointer, size)
				if err != nil {
					return fmt.Errorf("read %s slot %d: %w", core, slot, err)
				}
			} else {
				content, err = downloader.Download(ctx, rc.Pointer, size)
				if err != nil {
					return fmt.Errorf("download %s slot %d: %w", core, slot, err)
				}
			}
			if err := storage.StoreRegionContents(core, slot, content); err != nil {
				return err
			}
			path := filepath.Join(outputDir, fmt.Sprintf("%s-%s-slot%d.bin", b.Label, core.String(), slot))
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			report.add(reportRow{board: b.Label, core: core, slot: slot, bytes: len(content)})
		}
	}
	return nil
}

func regionSize(b config.PlacementBoard, c config.PlacementCore, slot int) uint32 {
	for _, r := range c.Regions {
		if r.Slot == slot {
			fi, err := os.Stat(r.SourceFile)
			if err != nil {
				return 0
			}
			return uint32(fi.Size())
		}
	}
	return 0
}

func sortedSlots(pointers map[int]adapters.RegionContent) []int {
	slots := make([]int, 0, len(pointers))
	for s := range pointers {
		slots = append(slots, s)
	}
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j-1] > slots[j]; j-- {
			slots[j-1], slots[j] = slots[j], slots[j-1]
		}
	}
	return slots
}
