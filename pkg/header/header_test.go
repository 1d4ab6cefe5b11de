package header

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var table Table
	table.Regions[0] = Region{Pointer: 0x70000000, Checksum: 0xdeadbeef, NWords: 17}
	table.Regions[31] = Region{Pointer: 0x1, Checksum: 0x2, NWords: 0x3}

	buf := make([]byte, Size)
	Encode(table, buf)

	got, magic, version, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if magic != Magic || version != Version {
		t.Fatalf("got magic=%#x version=%#x", magic, version)
	}
	if got.Regions[0] != table.Regions[0] {
		t.Fatalf("region 0 mismatch: got %+v", got.Regions[0])
	}
	if got.Regions[31] != table.Regions[31] {
		t.Fatalf("region 31 mismatch: got %+v", got.Regions[31])
	}
	for i := 1; i < 31; i++ {
		if !got.Regions[i].IsZero() {
			t.Fatalf("region %d should be zero, got %+v", i, got.Regions[i])
		}
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, _, err := Decode(make([]byte, Size-1))
	if err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestSizeConstant(t *testing.T) {
	if Size != 392 {
		t.Fatalf("got %d, want 392", Size)
	}
}
