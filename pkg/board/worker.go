// Package board implements the per-board worker: the sequence that
// binds a throttled endpoint, router/no-drop scopes, per-core DS
// execution, and the uploader/execution-context pair into the ordered
// lifecycle spec.md §4.6 describes. Grounded on pkg/node.NodeProcessor's
// goroutine+context.CancelFunc+sync.WaitGroup run/stop/wait lifecycle and
// pkg/network.Network's defer-chain scope discipline in Connect/Disconnect.
package board

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexmesh/fastdata/pkg/adapters"
	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/execctx"
	"github.com/cortexmesh/fastdata/pkg/fastdatain"
	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/header"
	"github.com/cortexmesh/fastdata/pkg/transport"
)

// Descriptor names one board: its Ethernet host, root chip, IP-tag id,
// gatherer core, and the cores to load on it.
type Descriptor struct {
	Label        string
	Host         string
	Root         coord.ChipAddress
	IPTag        uint8
	GathererCore coord.CoreAddress
	MonitorCores []coord.CoreAddress
	Cores        []coord.CoreAddress
}

// CoreJob pairs a core with the executor that produces its regions.
type CoreJob struct {
	Core     coord.CoreAddress
	Executor adapters.Executor
}

// Worker runs the per-board upload sequence for one Descriptor.
type Worker struct {
	desc                Descriptor
	jobs                []CoreJob
	storage             adapters.Storage
	transceiver         adapters.Transceiver
	uploadCfg           fastdatain.Config
	throttle            time.Duration
	smallWriteThreshold uint32
	logger              *slog.Logger

	mu         sync.Mutex
	startAddrs map[coord.CoreAddress]uint32
}

// New constructs a Worker for one board. smallWriteThreshold is the
// per-region byte size under which a region is written with an ordinary
// SCP memory write instead of going through the uploader.
func New(desc Descriptor, jobs []CoreJob, storage adapters.Storage, tr adapters.Transceiver, uploadCfg fastdatain.Config, throttle time.Duration, smallWriteThreshold uint32, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		desc:                desc,
		jobs:                jobs,
		storage:             storage,
		transceiver:         tr,
		uploadCfg:           uploadCfg,
		throttle:            throttle,
		smallWriteThreshold: smallWriteThreshold,
		logger:              logger.With("board", desc.Label),
		startAddrs:          make(map[coord.CoreAddress]uint32),
	}
}

// headerWriter adapts a Worker into execctx.HeaderEmitter, writing each
// core's finished pointer-table header to the address recorded for it
// during allocation.
type headerWriter struct {
	w *Worker
}

func (h headerWriter) EmitHeader(core coord.CoreAddress, table header.Table) error {
	buf := make([]byte, header.Size)
	header.Encode(table, buf)

	h.w.mu.Lock()
	addr, ok := h.w.startAddrs[core]
	h.w.mu.Unlock()
	if !ok {
		return fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "emit_header", errNoStartAddress(core))
	}
	return h.w.transceiver.WriteMemory(core.Chip(), addr, buf)
}

// Run executes the full per-board sequence: open endpoint, allocate,
// acquire scopes, execute cores, and tear down scopes in reverse order
// with the execution context closing first so headers travel while
// routing is still preferential.
func (w *Worker) Run(ctx context.Context) error {
	allCores := w.allCores()

	ep, err := transport.Dial(w.desc.Host, w.throttle, nil, nil)
	if err != nil {
		return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, "", "dial", err)
	}
	defer ep.Close()

	if err := ep.ReprogramTag(ctx, w.desc.IPTag); err != nil {
		return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, "", "reprogram_tag", err)
	}

	if err := w.allocateCores(); err != nil {
		return err
	}

	if err := w.transceiver.SetRouterTablesToSystem(allCores); err != nil {
		return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "router_tables_to_system", err)
	}

	origReinject, err := w.captureReinjection(allCores)
	if err != nil {
		_ = w.transceiver.RestoreRouterTables(allCores)
		return err
	}

	if err := w.acquireNoDrop(allCores); err != nil {
		_ = w.restoreReinjection(allCores, origReinject)
		_ = w.transceiver.RestoreRouterTables(allCores)
		return err
	}

	execCtx := execctx.New(headerWriter{w: w})
	runErr := w.executeCores(ctx, ep, execCtx)

	if closeErr := execCtx.Close(); runErr == nil {
		runErr = closeErr
	}

	_ = w.transceiver.ClearReinjectionQueues(allCores)

	if err := w.restoreReinjection(allCores, origReinject); err != nil && runErr == nil {
		runErr = fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "restore_reinjection", err)
	}

	if err := w.transceiver.RestoreRouterTables(allCores); err != nil {
		w.logStuckCores(allCores)
		if runErr == nil {
			runErr = fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "restore_router_tables", err)
		}
	}

	return runErr
}

func (w *Worker) allocateCores() error {
	for _, job := range w.jobs {
		sizes, err := w.storage.RegionSizes(job.Core)
		if err != nil {
			return err
		}
		var total uint32
		for _, sz := range sizes {
			total += sz
		}
		addr, err := w.transceiver.MallocSDRAM(job.Core.Chip(), total+header.Size, w.storage.AppID(), w.desc.IPTag)
		if err != nil {
			return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, job.Core.String(), "malloc_sdram", err)
		}
		if err := w.transceiver.WriteUser0(job.Core, addr); err != nil {
			return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, job.Core.String(), "write_user_0", err)
		}
		if err := w.storage.SetStartAddress(job.Core, addr); err != nil {
			return err
		}
		w.mu.Lock()
		w.startAddrs[job.Core] = addr
		w.mu.Unlock()
	}
	return nil
}

func (w *Worker) executeCores(ctx context.Context, ep *transport.Endpoint, execCtx *execctx.Context) error {
	txIDs := &fastdatain.TxIDAllocator{}
	uploader := fastdatain.New(ep, txIDs, w.uploadCfg, nil)

	for _, job := range w.jobs {
		w.mu.Lock()
		startAddr := w.startAddrs[job.Core]
		w.mu.Unlock()

		regions, contents, err := job.Executor.Execute(startAddr + header.Size)
		if err != nil {
			return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, job.Core.String(), "ds_execute", err)
		}

		for _, r := range regions {
			if err := w.storage.SetRegionPointer(job.Core, r.Slot, r.Pointer); err != nil {
				return err
			}
		}

		if err := execCtx.Execute(job.Core, regions); err != nil {
			return err
		}

		dx, dy := coord.ChipDelta(w.desc.Root, job.Core.Chip(), 255, 255)
		for _, r := range regions {
			content := contents[r.Slot]
			if len(content) == 0 {
				continue
			}
			if uint32(len(content)) < w.smallWriteThreshold {
				if err := w.transceiver.WriteMemory(job.Core.Chip(), r.Pointer, content); err != nil {
					return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, job.Core.String(), "write_region_small", err)
				}
			} else if err := uploader.Upload(ctx, dy, dx, r.Pointer, content); err != nil {
				return fderrors.WithLocation(fderrors.KindIO, w.desc.Label, job.Core.String(), "upload_region", err)
			}
			if err := w.storage.StoreRegionContents(job.Core, r.Slot, content); err != nil {
				return err
			}
		}
	}
	return nil
}

// captureReinjection reads each core's current reinjection status before
// acquireNoDrop overwrites it, so teardown can restore it exactly.
func (w *Worker) captureReinjection(cores []coord.CoreAddress) (map[coord.CoreAddress]adapters.ReinjectionStatus, error) {
	orig := make(map[coord.CoreAddress]adapters.ReinjectionStatus, len(cores))
	for _, c := range cores {
		status, err := w.transceiver.ReinjectionStatus(c)
		if err != nil {
			return nil, fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, c.String(), "reinjection_status", err)
		}
		orig[c] = status
	}
	return orig, nil
}

// restoreReinjection sets each core's reinjection timeout, emergency
// timeout, and packet-type mask back to the values captured at entry, in
// the reverse order acquireNoDrop set them.
func (w *Worker) restoreReinjection(cores []coord.CoreAddress, orig map[coord.CoreAddress]adapters.ReinjectionStatus) error {
	for _, c := range cores {
		status := orig[c]
		single := []coord.CoreAddress{c}
		if err := w.transceiver.SetReinjectionEmergencyTimeout(single, status.EmergencyTimeout); err != nil {
			return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, c.String(), "restore_reinjection_emergency_timeout", err)
		}
		if err := w.transceiver.SetReinjectionTimeout(single, status.Timeout); err != nil {
			return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, c.String(), "restore_reinjection_timeout", err)
		}
		if err := w.transceiver.SetReinjectionTypes(single, status.Types); err != nil {
			return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, c.String(), "restore_reinjection_types", err)
		}
	}
	return nil
}

func (w *Worker) acquireNoDrop(cores []coord.CoreAddress) error {
	if err := w.transceiver.SetReinjectionTypes(cores, 0); err != nil {
		return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "set_reinjection_types", err)
	}
	if err := w.transceiver.SetReinjectionTimeout(cores, 0); err != nil {
		return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "set_reinjection_timeout", err)
	}
	if err := w.transceiver.SetReinjectionEmergencyTimeout(cores, 0); err != nil {
		return fderrors.WithLocation(fderrors.KindCoreRejected, w.desc.Label, "", "set_reinjection_emergency_timeout", err)
	}
	return nil
}

func (w *Worker) logStuckCores(cores []coord.CoreAddress) {
	for _, c := range cores {
		state, err := w.transceiver.CPUState(c)
		if err != nil {
			w.logger.Warn("failed to read cpu state during teardown", "core", c.String(), "err", err)
			continue
		}
		if state != "RUNNING" {
			w.logger.Error("core not running after scope teardown", "core", c.String(), "state", state)
		}
	}
}

func (w *Worker) allCores() []coord.CoreAddress {
	cores := make([]coord.CoreAddress, 0, len(w.desc.Cores)+len(w.desc.MonitorCores)+1)
	cores = append(cores, w.desc.GathererCore)
	cores = append(cores, w.desc.MonitorCores...)
	cores = append(cores, w.desc.Cores...)
	return cores
}
