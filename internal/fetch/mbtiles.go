package fetch

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vinadenenko/earth-map/internal/tile"
)

// MBTilesSource reads tiles from a local MBTiles archive. MBTiles uses
// the TMS scheme, so rows are flipped relative to the XYZ keys used
// everywhere else.
type MBTilesSource struct {
	db *sql.DB
}

func NewMBTilesSource(path string) (*MBTilesSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles %s: %w", path, err)
	}
	// Read-only workload, a single connection keeps the driver happy.
	db.SetMaxOpenConns(1)
	return &MBTilesSource{db: db}, nil
}

func (s *MBTilesSource) Fetch(ctx context.Context, key tile.Key) ([]byte, error) {
	tmsRow := (uint32(1) << key.Level) - 1 - key.Row

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		key.Level, key.Col, tmsRow,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, &Error{Key: key, Err: ErrTileNotFound}
	}
	if err != nil {
		return nil, &Error{Key: key, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Key: key, Err: ErrEmptyTile}
	}
	return data, nil
}

// Metadata reads the name/value metadata table of the archive.
func (s *MBTilesSource) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

func (s *MBTilesSource) Close() error {
	return s.db.Close()
}
