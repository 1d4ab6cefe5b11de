// Package execctx coordinates per-core data-spec executions on one
// board so that cross-core region references resolve before any
// pointer table is committed, grounded on pkg/network.Network's
// map-keyed registries (odMap, controllers) generalized to a declared/
// pending pair of maps.
package execctx

import (
	"sync"

	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/header"
)

// RefID uniquely names a region that other regions may reference.
type RefID uint64

type declaration struct {
	core coord.CoreAddress
	base uint32
}

// HeaderEmitter writes a core's pointer-table header exactly once, after
// every region body on that core has been written and every reference
// it consumes has been resolved.
type HeaderEmitter interface {
	EmitHeader(core coord.CoreAddress, table header.Table) error
}

// pendingCore tracks one core's outstanding reference patches and the
// table being assembled for it.
type pendingCore struct {
	table      header.Table
	unresolved map[int]RefID // region index -> ref id still to resolve
	written    bool
}

// Context coordinates reference resolution across all cores on one
// board.
type Context struct {
	mu       sync.Mutex
	emitter  HeaderEmitter
	declared map[RefID]declaration
	seen     map[RefID]bool
	pending  map[coord.CoreAddress]*pendingCore
}

// New constructs an empty Context.
func New(emitter HeaderEmitter) *Context {
	return &Context{
		emitter:  emitter,
		declared: make(map[RefID]declaration),
		seen:     make(map[RefID]bool),
		pending:  make(map[coord.CoreAddress]*pendingCore),
	}
}

// Region describes one memory region produced by a DS executor: its
// slot index within the core's pointer table, whether it is
// referenceable by other regions, and if it is itself a reference, the
// RefID it points at.
type Region struct {
	Slot         int
	Pointer      uint32
	Checksum     uint32
	NWords       uint32
	Declares     *RefID // non-nil if other regions may reference this one
	References   *RefID // non-nil if this region's pointer must be patched to the referent's base
}

// Execute records the regions produced for one core's data-spec
// execution. Declarations are registered immediately; references on the
// same chip as an already-known declarant are patched immediately,
// otherwise the core is parked as pending. If no pending references
// remain for this core afterward, its pointer-table header is emitted.
func (c *Context) Execute(core coord.CoreAddress, regions []Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pc, ok := c.pending[core]
	if !ok {
		pc = &pendingCore{unresolved: make(map[int]RefID)}
		c.pending[core] = pc
	}

	for _, r := range regions {
		pc.table.Regions[r.Slot] = header.Region{Pointer: r.Pointer, Checksum: r.Checksum, NWords: r.NWords}

		if r.Declares != nil {
			if c.seen[*r.Declares] {
				return fderrors.New(fderrors.KindProtocol, errDuplicateRef(*r.Declares))
			}
			c.seen[*r.Declares] = true
			c.declared[*r.Declares] = declaration{core: core, base: r.Pointer}
		}

		if r.References != nil {
			if err := c.resolveOrPark(core, pc, r.Slot, *r.References); err != nil {
				return err
			}
		}
	}

	return c.maybeEmit(core, pc)
}

func (c *Context) resolveOrPark(requester coord.CoreAddress, pc *pendingCore, slot int, ref RefID) error {
	decl, known := c.declared[ref]
	if !known || decl.core.Chip() != requester.Chip() {
		// Parked; Close reports unknown or cross-chip referents.
		pc.unresolved[slot] = ref
		return nil
	}
	region := pc.table.Regions[slot]
	region.Pointer = decl.base
	pc.table.Regions[slot] = region
	return nil
}

func (c *Context) maybeEmit(core coord.CoreAddress, pc *pendingCore) error {
	if pc.written || len(pc.unresolved) > 0 {
		return nil
	}
	if err := c.emitter.EmitHeader(core, pc.table); err != nil {
		return fderrors.WithLocation(fderrors.KindIO, core.String(), "", "emit_header", err)
	}
	pc.written = true
	return nil
}

// Close resolves every still-pending reference across all cores,
// failing with a DanglingReference error if a referent is unknown or on
// a different chip, then emits each remaining core's header.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for core, pc := range c.pending {
		if pc.written {
			continue
		}
		for slot, ref := range pc.unresolved {
			decl, known := c.declared[ref]
			if !known {
				return fderrors.WithLocation(fderrors.KindDanglingReference, core.String(), "", "close", errUnknownRef(ref))
			}
			if decl.core.Chip() != core.Chip() {
				return fderrors.WithLocation(fderrors.KindDanglingReference, core.String(), "", "close", errCrossChipRef(ref, decl.core, core))
			}
			region := pc.table.Regions[slot]
			region.Pointer = decl.base
			pc.table.Regions[slot] = region
			delete(pc.unresolved, slot)
		}
		if err := c.emitter.EmitHeader(core, pc.table); err != nil {
			return fderrors.WithLocation(fderrors.KindIO, core.String(), "", "emit_header", err)
		}
		pc.written = true
	}
	return nil
}
