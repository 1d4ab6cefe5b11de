package execctx

import (
	"fmt"
	"testing"

	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/header"
)

type recordingEmitter struct {
	emitted map[coord.CoreAddress]header.Table
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{emitted: make(map[coord.CoreAddress]header.Table)}
}

func (r *recordingEmitter) EmitHeader(core coord.CoreAddress, table header.Table) error {
	if _, ok := r.emitted[core]; ok {
		return fmt.Errorf("header emitted twice for core %s", core)
	}
	r.emitted[core] = table
	return nil
}

func TestExecuteResolvesSameChipReferenceImmediately(t *testing.T) {
	emitter := newRecordingEmitter()
	ctx := New(emitter)

	coreA := coord.CoreAddress{X: 0, Y: 0, P: 1}
	coreB := coord.CoreAddress{X: 0, Y: 0, P: 2}

	refID := RefID(1)
	if err := ctx.Execute(coreA, []Region{
		{Slot: 0, Pointer: 0x7000, NWords: 10, Declares: &refID},
	}); err != nil {
		t.Fatalf("execute coreA failed: %v", err)
	}

	if err := ctx.Execute(coreB, []Region{
		{Slot: 0, Pointer: 0, NWords: 4, References: &refID},
	}); err != nil {
		t.Fatalf("execute coreB failed: %v", err)
	}

	tableB, ok := emitter.emitted[coreB]
	if !ok {
		t.Fatalf("coreB header was not emitted")
	}
	if tableB.Regions[0].Pointer != 0x7000 {
		t.Fatalf("coreB region 0 pointer = %#x, want 0x7000", tableB.Regions[0].Pointer)
	}
}

func TestExecuteParksPendingReferenceUntilClose(t *testing.T) {
	emitter := newRecordingEmitter()
	ctx := New(emitter)

	coreA := coord.CoreAddress{X: 1, Y: 1, P: 1}
	coreB := coord.CoreAddress{X: 1, Y: 1, P: 2}
	refID := RefID(42)

	if err := ctx.Execute(coreB, []Region{
		{Slot: 0, References: &refID},
	}); err != nil {
		t.Fatalf("execute coreB failed: %v", err)
	}
	if _, emitted := emitter.emitted[coreB]; emitted {
		t.Fatalf("coreB header emitted before reference resolved")
	}

	if err := ctx.Execute(coreA, []Region{
		{Slot: 0, Pointer: 0x9000, Declares: &refID},
	}); err != nil {
		t.Fatalf("execute coreA failed: %v", err)
	}

	if err := ctx.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	tableB, ok := emitter.emitted[coreB]
	if !ok {
		t.Fatalf("coreB header never emitted")
	}
	if tableB.Regions[0].Pointer != 0x9000 {
		t.Fatalf("coreB region 0 pointer = %#x, want 0x9000", tableB.Regions[0].Pointer)
	}
}

func TestCloseFailsOnUnknownReference(t *testing.T) {
	emitter := newRecordingEmitter()
	ctx := New(emitter)
	core := coord.CoreAddress{X: 2, Y: 2, P: 1}
	refID := RefID(99)

	if err := ctx.Execute(core, []Region{{Slot: 0, References: &refID}}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	err := ctx.Close()
	if !fderrors.IsKind(err, fderrors.KindDanglingReference) {
		t.Fatalf("got %v, want dangling-reference", err)
	}
}

func TestCloseFailsOnCrossChipReference(t *testing.T) {
	emitter := newRecordingEmitter()
	ctx := New(emitter)

	declarant := coord.CoreAddress{X: 0, Y: 0, P: 1}
	requester := coord.CoreAddress{X: 1, Y: 0, P: 1}
	refID := RefID(7)

	if err := ctx.Execute(requester, []Region{{Slot: 0, References: &refID}}); err != nil {
		t.Fatalf("execute requester failed: %v", err)
	}
	if err := ctx.Execute(declarant, []Region{{Slot: 0, Pointer: 1, Declares: &refID}}); err != nil {
		t.Fatalf("execute declarant failed: %v", err)
	}

	err := ctx.Close()
	if !fderrors.IsKind(err, fderrors.KindDanglingReference) {
		t.Fatalf("got %v, want dangling-reference for cross-chip ref", err)
	}
}

func TestExecuteRejectsDuplicateRefID(t *testing.T) {
	emitter := newRecordingEmitter()
	ctx := New(emitter)
	core := coord.CoreAddress{X: 0, Y: 0, P: 0}
	refID := RefID(1)

	if err := ctx.Execute(core, []Region{{Slot: 0, Declares: &refID}}); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	err := ctx.Execute(core, []Region{{Slot: 1, Declares: &refID}})
	if err == nil {
		t.Fatalf("expected error for duplicate ref id")
	}
}
