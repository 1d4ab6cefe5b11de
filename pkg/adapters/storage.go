// Package adapters implements the default Storage/Transceiver/DS-executor
// collaborators that sit at the system's external boundary, grounded on
// pkg/od's narrow Reader/Writer accessor pattern and, for persistence,
// the migrate+modernc.org/sqlite stack the HydraDNS example uses for
// exactly this kind of key-value-by-key backend.
package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fderrors"

	_ "modernc.org/sqlite"
)

// BoardDescriptor names one Ethernet-connected board by its host address
// and root chip.
type BoardDescriptor struct {
	Label string
	Host  string
	Root  coord.ChipAddress
}

// Storage is the persistence contract consumed by the board worker and
// execution context, matching spec.md §6's Storage interface.
type Storage interface {
	AppID() uint8
	ListEthernetsToLoad() ([]BoardDescriptor, error)
	ListCoresToLoad(board BoardDescriptor, systemOnly bool) ([]coord.CoreAddress, error)
	RegionSizes(core coord.CoreAddress) (map[int]uint32, error)
	SetStartAddress(core coord.CoreAddress, addr uint32) error
	SetRegionPointer(core coord.CoreAddress, regionIndex int, addr uint32) error
	RegionPointersAndContent(core coord.CoreAddress) (map[int]RegionContent, error)
	AppendRegionContents(core coord.CoreAddress, region int, data []byte) error
	StoreRegionContents(core coord.CoreAddress, region int, data []byte) error
}

// RegionContent pairs a region's on-chip pointer with its optional
// already-known content bytes.
type RegionContent struct {
	Pointer uint32
	Content []byte // nil if not yet materialized
}

// SQLiteStorage is the default Storage implementation, backed by a
// single-writer SQLite connection pool: one capped-at-1 connection for
// writes, a separate unrestricted handle for concurrent reads. This
// mirrors the "implementation must either be internally thread-safe or
// be serialized by a single writer thread" requirement without adding a
// mutex around the whole store.
type SQLiteStorage struct {
	appID   uint8
	writeDB *sql.DB
	readDB  *sql.DB
	mu      sync.Mutex // guards in-memory board/region-size registries below
	boards  []BoardDescriptor
	sizes   map[coord.CoreAddress]map[int]uint32
}

// OpenSQLiteStorage opens (or creates) the database at dsn and applies
// pending schema migrations from migrationsDir.
func OpenSQLiteStorage(ctx context.Context, dsn, migrationsDir string, appID uint8) (*SQLiteStorage, error) {
	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, "", "", "open", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, "", "", "open", err)
	}

	if err := applyMigrations(dsn, migrationsDir); err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, "", "", "migrate", err)
	}

	if err := writeDB.PingContext(ctx); err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, "", "", "ping", err)
	}

	return &SQLiteStorage{
		appID:   appID,
		writeDB: writeDB,
		readDB:  readDB,
		sizes:   make(map[coord.CoreAddress]map[int]uint32),
	}, nil
}

func (s *SQLiteStorage) AppID() uint8 { return s.appID }

func (s *SQLiteStorage) ListEthernetsToLoad() ([]BoardDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BoardDescriptor, len(s.boards))
	copy(out, s.boards)
	return out, nil
}

// SetBoards seeds the in-memory board registry; called once at startup
// from the parsed placements file (pkg/config.LoadPlacements), not by
// the protocol state machines themselves.
func (s *SQLiteStorage) SetBoards(boards []BoardDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards = boards
}

func (s *SQLiteStorage) ListCoresToLoad(board BoardDescriptor, systemOnly bool) ([]coord.CoreAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cores []coord.CoreAddress
	for core := range s.sizes {
		if core.Chip() == board.Root {
			cores = append(cores, core)
		}
	}
	return cores, nil
}

// SetRegionSizes seeds the declared region sizes for a core; called once
// from the parsed placements file.
func (s *SQLiteStorage) SetRegionSizes(core coord.CoreAddress, sizes map[int]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[core] = sizes
}

func (s *SQLiteStorage) RegionSizes(core coord.CoreAddress) (map[int]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes, ok := s.sizes[core]
	if !ok {
		return nil, fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "region_sizes",
			fmt.Errorf("no region sizes recorded for core %s", core))
	}
	return sizes, nil
}

func (s *SQLiteStorage) SetStartAddress(core coord.CoreAddress, addr uint32) error {
	_, err := s.writeDB.Exec(
		`INSERT INTO core_state(chip_x, chip_y, proc, start_address) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chip_x, chip_y, proc) DO UPDATE SET start_address = excluded.start_address`,
		core.X, core.Y, core.P, addr)
	if err != nil {
		return fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "set_start_address", err)
	}
	return nil
}

func (s *SQLiteStorage) SetRegionPointer(core coord.CoreAddress, regionIndex int, addr uint32) error {
	_, err := s.writeDB.Exec(
		`INSERT INTO region_pointer(chip_x, chip_y, proc, region_index, pointer) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chip_x, chip_y, proc, region_index) DO UPDATE SET pointer = excluded.pointer`,
		core.X, core.Y, core.P, regionIndex, addr)
	if err != nil {
		return fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "set_region_pointer", err)
	}
	return nil
}

func (s *SQLiteStorage) RegionPointersAndContent(core coord.CoreAddress) (map[int]RegionContent, error) {
	rows, err := s.readDB.Query(
		`SELECT region_index, pointer, content FROM region_pointer
		 LEFT JOIN region_content USING (chip_x, chip_y, proc, region_index)
		 WHERE chip_x = ? AND chip_y = ? AND proc = ?`,
		core.X, core.Y, core.P)
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "region_pointers_and_content", err)
	}
	defer rows.Close()

	out := make(map[int]RegionContent)
	for rows.Next() {
		var idx int
		var pointer uint32
		var content []byte
		if err := rows.Scan(&idx, &pointer, &content); err != nil {
			return nil, fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "region_pointers_and_content", err)
		}
		out[idx] = RegionContent{Pointer: pointer, Content: content}
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) AppendRegionContents(core coord.CoreAddress, region int, data []byte) error {
	existing, err := s.regionContent(core, region)
	if err != nil {
		return err
	}
	return s.StoreRegionContents(core, region, append(existing, data...))
}

func (s *SQLiteStorage) StoreRegionContents(core coord.CoreAddress, region int, data []byte) error {
	_, err := s.writeDB.Exec(
		`INSERT INTO region_content(chip_x, chip_y, proc, region_index, content) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chip_x, chip_y, proc, region_index) DO UPDATE SET content = excluded.content`,
		core.X, core.Y, core.P, region, data)
	if err != nil {
		return fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "store_region_contents", err)
	}
	return nil
}

func (s *SQLiteStorage) regionContent(core coord.CoreAddress, region int) ([]byte, error) {
	var content []byte
	err := s.readDB.QueryRow(
		`SELECT content FROM region_content WHERE chip_x = ? AND chip_y = ? AND proc = ? AND region_index = ?`,
		core.X, core.Y, core.P, region).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindStorage, core.String(), "", "region_content", err)
	}
	return content, nil
}

// Close releases both database handles.
func (s *SQLiteStorage) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
