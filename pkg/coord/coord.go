// Package coord models the 2D chip/core addressing used by the machine and
// the root-relative delta arithmetic that board-local wire messages carry
// instead of absolute coordinates.
package coord

import "fmt"

// ChipAddress identifies a chip on the machine by its (x, y) coordinates.
type ChipAddress struct {
	X uint16
	Y uint16
}

func (c ChipAddress) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// CoreAddress identifies a single processor on a chip.
type CoreAddress struct {
	X uint16
	Y uint16
	P uint8
}

func (c CoreAddress) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.P)
}

// Chip returns the chip address that owns this core.
func (c CoreAddress) Chip() ChipAddress {
	return ChipAddress{X: c.X, Y: c.Y}
}

// Delta computes the root-relative coordinate delta used in board-local
// wire messages: (target - root) mod (max+1), wrapping around the
// torus dimension. Gatherer and monitor coordinates are always expressed
// relative to their board's root chip this way, never as absolute values.
func Delta(root, target uint16, max uint16) uint16 {
	span := uint32(max) + 1
	d := (uint32(target) - uint32(root) + span) % span
	return uint16(d)
}

// ChipDelta returns the (dx, dy) pair of a target chip relative to a root
// chip, wrapped on a torus of size (maxX+1) x (maxY+1).
func ChipDelta(root, target ChipAddress, maxX, maxY uint16) (dx, dy uint16) {
	return Delta(root.X, target.X, maxX), Delta(root.Y, target.Y, maxY)
}
