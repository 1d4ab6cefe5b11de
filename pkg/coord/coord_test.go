package coord

import "testing"

func TestDeltaWrapsAround(t *testing.T) {
	cases := []struct {
		root, target, max uint16
		want               uint16
	}{
		{0, 5, 7, 5},
		{5, 0, 7, 3}, // wraps: (0-5+8) mod 8 = 3
		{3, 3, 7, 0},
		{7, 0, 7, 1},
	}
	for _, c := range cases {
		got := Delta(c.root, c.target, c.max)
		if got != c.want {
			t.Errorf("Delta(%d,%d,%d) = %d, want %d", c.root, c.target, c.max, got, c.want)
		}
	}
}

func TestChipDelta(t *testing.T) {
	root := ChipAddress{X: 0, Y: 0}
	target := ChipAddress{X: 7, Y: 7}
	dx, dy := ChipDelta(root, target, 7, 7)
	if dx != 7 || dy != 7 {
		t.Fatalf("got dx=%d dy=%d, want 7,7", dx, dy)
	}
}

func TestCoreAddressChip(t *testing.T) {
	core := CoreAddress{X: 2, Y: 3, P: 5}
	chip := core.Chip()
	if chip.X != 2 || chip.Y != 3 {
		t.Fatalf("got %v, want (2,3)", chip)
	}
}
