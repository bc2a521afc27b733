package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lightalert/internal/types"
)

// LotRepository resolves lot ids to their farm/sector/lot hierarchy and
// planted variety. The hierarchy tables are owned by the field-management
// system; this service only reads them.
type LotRepository struct {
	db DBTX
}

// NewLotRepository creates a LotRepository backed by the given database
// connection (pool or transaction).
func NewLotRepository(db DBTX) *LotRepository {
	return &LotRepository{db: db}
}

const lotInfoQuery = `SELECT l.id, l.name, s.id, s.name, f.id, f.name,
	l.variety_id, v.name
 FROM lots l
 JOIN sectors s ON l.sector_id = s.id
 JOIN farms f ON s.farm_id = f.id
 LEFT JOIN varieties v ON l.variety_id = v.id`

// GetLotInfo resolves a single lot id.
func (r *LotRepository) GetLotInfo(ctx context.Context, lotID int64) (*types.LotInfo, error) {
	row := r.db.QueryRow(ctx, lotInfoQuery+` WHERE l.id = $1`, lotID)
	info, err := scanLotInfo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLot, "lot not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get lot info", err)
	}
	return info, nil
}

// GetLotInfoBatch resolves a set of lot ids in one query. Missing lots are
// simply absent from the result map; the caller decides whether that is an
// error.
func (r *LotRepository) GetLotInfoBatch(ctx context.Context, lotIDs []int64) (map[int64]*types.LotInfo, error) {
	if len(lotIDs) == 0 {
		return map[int64]*types.LotInfo{}, nil
	}

	rows, err := r.db.Query(ctx, lotInfoQuery+` WHERE l.id = ANY($1)`, lotIDs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get lot info batch", err)
	}
	defer rows.Close()

	results := make(map[int64]*types.LotInfo, len(lotIDs))
	for rows.Next() {
		info, scanErr := scanLotInfo(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lot info row", scanErr)
		}
		results[info.LotID] = info
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating lot info rows", err)
	}
	return results, nil
}

// GetFarmName resolves a farm id to its display name.
func (r *LotRepository) GetFarmName(ctx context.Context, farmID string) (string, error) {
	var name string
	row := r.db.QueryRow(ctx, `SELECT name FROM farms WHERE id = $1`, farmID)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundLot, "farm not found", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to get farm name", err)
	}
	return name, nil
}

func scanLotInfo(row pgx.Row) (*types.LotInfo, error) {
	var info types.LotInfo
	err := row.Scan(
		&info.LotID,
		&info.LotName,
		&info.SectorID,
		&info.SectorName,
		&info.FarmID,
		&info.FarmName,
		&info.VarietyID,
		&info.VarietyName,
	)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
