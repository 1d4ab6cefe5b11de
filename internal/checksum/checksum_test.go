package checksum

import "testing"

func TestWordSum32Aligned(t *testing.T) {
	data := []byte{
		0x01, 0x00, 0x00, 0x00, // 1
		0x02, 0x00, 0x00, 0x00, // 2
	}
	if got := WordSum32(data); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestWordSum32Overflow(t *testing.T) {
	data := make([]byte, 8)
	// Two words of 0xFFFFFFFF each: sum wraps mod 2^32 to 0xFFFFFFFE.
	for i := range data {
		data[i] = 0xFF
	}
	want := uint32(0xFFFFFFFE)
	if got := WordSum32(data); got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestWordSum32PartialTrailingWord(t *testing.T) {
	data := []byte{0x05, 0x00, 0x00} // zero-padded to 0x00000005
	if got := WordSum32(data); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestWordSum32Empty(t *testing.T) {
	if got := WordSum32(nil); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestWordCount(t *testing.T) {
	cases := []struct{ n, want uint32 }{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{272, 68},
	}
	for _, c := range cases {
		if got := WordCount(c.n); got != c.want {
			t.Errorf("WordCount(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
