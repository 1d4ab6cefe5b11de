package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPlacementsDecodesBoardsAndCores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "placements.json")
	body := `{
		"boards": [
			{
				"label": "board-0",
				"host": "10.0.0.1:54321",
				"root_x": 0,
				"root_y": 0,
				"ip_tag": 1,
				"cores": [
					{
						"x": 1, "y": 0, "p": 2,
						"regions": [
							{"slot": 0, "source_file": "weights.bin", "declares": 7}
						]
					}
				]
			}
		]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	p, err := LoadPlacements(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(p.Boards) != 1 {
		t.Fatalf("boards = %d, want 1", len(p.Boards))
	}
	b := p.Boards[0]
	if b.Label != "board-0" || b.Host != "10.0.0.1:54321" {
		t.Fatalf("unexpected board: %+v", b)
	}
	if len(b.Cores) != 1 || b.Cores[0].P != 2 {
		t.Fatalf("unexpected cores: %+v", b.Cores)
	}
	if len(b.Cores[0].Regions) != 1 || b.Cores[0].Regions[0].Declares == nil || *b.Cores[0].Regions[0].Declares != 7 {
		t.Fatalf("unexpected regions: %+v", b.Cores[0].Regions)
	}

	descriptors := p.BoardDescriptors()
	if len(descriptors) != 1 || descriptors[0].Label != "board-0" {
		t.Fatalf("unexpected descriptors: %+v", descriptors)
	}
}
