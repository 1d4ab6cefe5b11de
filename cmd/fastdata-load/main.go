// Command fastdata-load drives one Fast Data-In load pass over every
// board named in a placements file, grounded on cmd/canopen_http and
// cmd/sdo_client's flag-based, logrus-configured idiom.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/cortexmesh/fastdata/pkg/adapters"
	"github.com/cortexmesh/fastdata/pkg/board"
	"github.com/cortexmesh/fastdata/pkg/config"
	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fastdatain"
	"github.com/cortexmesh/fastdata/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to an ini file with the [timing] section")
	placementsPath := flag.String("placements", "", "path to a JSON placements file (required)")
	storageDSN := flag.String("storage", "fastdata.db", "DSN for the SQLite storage backend")
	migrationsDir := flag.String("migrations", "", "path to the storage schema migrations directory")
	reportDir := flag.String("report-dir", "", "directory to write the per-run TSV transfer report into")
	dryRun := flag.Bool("dry-run", false, "use an in-memory mock transceiver instead of a real machine")
	appID := flag.Int("app-id", 30, "application id used for SDRAM allocation")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	runID := xid.New().String()
	log.WithField("run", runID).Info("fastdata-load starting")

	if *placementsPath == "" {
		log.Fatal("fastdata-load: -placements is required")
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
		log.Fatal("fastdata-load: a real transceiver is an external collaborator not implemented by this repository; run with -dry-run")
	}

	seedStorage(storage, placements)

	uploadCfg := fastdatain.Config{
		AwaitRepliesTimeout: timing.SDOInTimeout,
		TimeoutRetryLimit:   timing.SDOInRetryLimit,
	}
	throttle := time.Duration(timing.ThrottleNS) * time.Nanosecond

	tasks, rows := buildLoadTasks(placements, storage, transceiver, uploadCfg, throttle, timing.SmallWriteThreshold, runID)

	sched := scheduler.New(timing.ParallelSize)
	start := time.Now()
	runErr := sched.Run(ctx, tasks)
	elapsed := time.Since(start)

	if *reportDir != "" {
		if err := writeReport(*reportDir, runID, rows, elapsed); err != nil {
			log.WithError(err).Warn("failed to write transfer report")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Fatal("fastdata-load completed with errors")
	}
	log.WithField("run", runID).WithField("elapsed", elapsed).Info("fastdata-load finished")
}

// reportRow is one line of the per-core TSV transfer report.
type reportRow struct {
	board string
	core  coord.CoreAddress
	bytes uint32
}

func seedStorage(storage *adapters.SQLiteStorage, placements config.Placements) {
	storage.SetBoards(placements.BoardDescriptors())
	for _, b := range placements.Boards {
		for _, c := range b.Cores {
			core := coord.CoreAddress{X: c.X, Y: c.Y, P: c.P}
			sizes := make(map[int]uint32, len(c.Regions))
			for _, r := range c.Regions {
				content, err := os.ReadFile(r.SourceFile)
				if err != nil {
					log.WithError(err).WithField("core", core.String()).Fatal("failed to read region source file")
				}
				sizes[r.Slot] = uint32(len(content))
			}
			storage.SetRegionSizes(core, sizes)
		}
	}
}

func buildLoadTasks(placements config.Placements, storage adapters.Storage, tr adapters.Transceiver, uploadCfg fastdatain.Config, throttle time.Duration, smallWriteThreshold uint32, runID string) ([]scheduler.Task, []reportRow) {
	var tasks []scheduler.Task
	var rows []reportRow

	for _, b := range placements.Boards {
		b := b
		desc := board.Descriptor{
			Label: b.Label,
			Host:  b.Host,
			Root:  coord.ChipAddress{X: b.RootX, Y: b.RootY},
			IPTag: b.IPTag,
		}

		var jobs []board.CoreJob
		for _, c := range b.Cores {
			core := coord.CoreAddress{X: c.X, Y: c.Y, P: c.P}
			if c.SystemOK {
				desc.GathererCore = core
				continue
			}
			desc.Cores = append(desc.Cores, core)

			specs := make([]adapters.RegionSpec, 0, len(c.Regions))
			var total uint32
			for _, r := range c.Regions {
				content, err := os.ReadFile(r.SourceFile)
				if err != nil {
					log.WithError(err).WithField("core", core.String()).Fatal("failed to read region source file")
				}
				spec := adapters.RegionSpec{Slot: r.Slot, Content: content}
				specs = append(specs, spec)
				total += uint32(len(content))
			}
			jobs = append(jobs, board.CoreJob{Core: core, Executor: adapters.NewNullExecutor(specs)})
			rows = append(rows, reportRow{board: b.Label, core: core, bytes: total})
		}

		worker := board.New(desc, jobs, storage, tr, uploadCfg, throttle, smallWriteThreshold, nil)
		label := b.Label
		tasks = append(tasks, scheduler.Task{
			Label: label,
			Run: func(ctx context.Context) error {
				log.WithField("run", runID).WithField("board", label).Info("loading board")
				return worker.Run(ctx)
			},
		})
	}
	return tasks, rows
}

func writeReport(dir, runID string, rows []reportRow, elapsed time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("load-%s.tsv", runID))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	defer w.Flush()

	_ = w.Write([]string{"board", "core", "bytes", "duration_ms"})
	durationMs := fmt.Sprintf("%d", elapsed.Milliseconds())
	for _, r := range rows {
		_ = w.Write([]string{r.board, r.core.String(), fmt.Sprintf("%d", r.bytes), durationMs})
	}
	return nil
}
