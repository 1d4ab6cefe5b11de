package board

import (
	"fmt"

	"github.com/cortexmesh/fastdata/pkg/coord"
)

func errNoStartAddress(core coord.CoreAddress) error {
	return fmt.Errorf("board: no start address recorded for core %s", core)
}
