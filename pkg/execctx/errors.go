package execctx

import (
	"fmt"

	"github.com/cortexmesh/fastdata/pkg/coord"
)

func errDuplicateRef(ref RefID) error {
	return fmt.Errorf("execctx: ref id %d declared more than once", ref)
}

func errUnknownRef(ref RefID) error {
	return fmt.Errorf("execctx: ref id %d is never declared", ref)
}

func errCrossChipRef(ref RefID, declaredOn, requestedFrom coord.CoreAddress) error {
	return fmt.Errorf("execctx: ref id %d declared on chip %s cannot be referenced from chip %s",
		ref, declaredOn.Chip(), requestedFrom.Chip())
}
