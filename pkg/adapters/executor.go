package adapters

import (
	"github.com/cortexmesh/fastdata/internal/checksum"
	"github.com/cortexmesh/fastdata/pkg/execctx"
)

// RegionSpec is the caller-supplied description of one region a DS
// executor must produce: its slot, content, and optional declare/
// reference linkage.
type RegionSpec struct {
	Slot       int
	Content    []byte
	Declares   *execctx.RefID
	References *execctx.RefID
}

// Executor is the DS-executor contract from spec.md §6: given a core's
// starting SDRAM address, it yields the regions to be written, in
// execution-context-ready form.
type Executor interface {
	Execute(base uint32) ([]execctx.Region, map[int][]byte, error)
}

// NullExecutor is a trivial Executor that replays a fixed region set
// passed in verbatim, laid out relative to the target base address. It
// exists so the execution context and uploader can be exercised end to
// end without a real DS bytecode interpreter, which is an external
// collaborator out of this repo's scope.
type NullExecutor struct {
	specs   []RegionSpec
	offsets []uint32
}

// NewNullExecutor builds an executor over specs, laying them out
// back-to-back starting at offset 0.
func NewNullExecutor(specs []RegionSpec) *NullExecutor {
	offsets := make([]uint32, len(specs))
	var off uint32
	for i, s := range specs {
		offsets[i] = off
		off += uint32(len(s.Content))
	}
	return &NullExecutor{specs: specs, offsets: offsets}
}

func (e *NullExecutor) Execute(base uint32) ([]execctx.Region, map[int][]byte, error) {
	regions := make([]execctx.Region, 0, len(e.specs))
	contents := make(map[int][]byte, len(e.specs))
	for i, s := range e.specs {
		pointer := base + e.offsets[i]
		regions = append(regions, execctx.Region{
			Slot:       s.Slot,
			Pointer:    pointer,
			Checksum:   checksum.WordSum32(s.Content),
			NWords:     checksum.WordCount(uint32(len(s.Content))),
			Declares:   s.Declares,
			References: s.References,
		})
		contents[s.Slot] = s.Content
	}
	return regions, contents, nil
}
