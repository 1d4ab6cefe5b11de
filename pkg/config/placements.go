package config

import (
	"encoding/json"
	"os"

	"github.com/cortexmesh/fastdata/pkg/adapters"
	"github.com/cortexmesh/fastdata/pkg/coord"
)

// PlacementCore is one core's entry in a placements file: which regions
// it owns and which of them declare or reference cross-core pointers.
type PlacementCore struct {
	X        uint16          `json:"x"`
	Y        uint16          `json:"y"`
	P        uint8           `json:"p"`
	SystemOK bool            `json:"system_core"`
	Regions  []PlacementSlot `json:"regions"`
}

// PlacementSlot describes one region's content source and pointer role.
type PlacementSlot struct {
	Slot       int    `json:"slot"`
	SourceFile string `json:"source_file"`
	Declares   *uint64 `json:"declares,omitempty"`
	References *uint64 `json:"references,omitempty"`
}

// PlacementBoard is one ethernet-connected board's full core list.
type PlacementBoard struct {
	Label string          `json:"label"`
	Host  string          `json:"host"`
	RootX uint16          `json:"root_x"`
	RootY uint16          `json:"root_y"`
	IPTag uint8           `json:"ip_tag"`
	Cores []PlacementCore `json:"cores"`
}

// Placements is the top-level document read from the -placements flag.
type Placements struct {
	Boards []PlacementBoard `json:"boards"`
}

// LoadPlacements decodes a placements document from path.
func LoadPlacements(path string) (Placements, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Placements{}, err
	}
	var p Placements
	if err := json.Unmarshal(raw, &p); err != nil {
		return Placements{}, err
	}
	return p, nil
}

// BoardDescriptors flattens a Placements document into the
// adapters.BoardDescriptor form consumed by storage seeding.
func (p Placements) BoardDescriptors() []adapters.BoardDescriptor {
	out := make([]adapters.BoardDescriptor, 0, len(p.Boards))
	for _, b := range p.Boards {
		out = append(out, adapters.BoardDescriptor{
			Label: b.Label,
			Host:  b.Host,
			Root:  coord.ChipAddress{X: b.RootX, Y: b.RootY},
		})
	}
	return out
}
