package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

const defaultThresholdsTable = "thresholds"

// ThresholdRepository is a Postgres implementation for thresholds.
type ThresholdRepository struct {
	db    *sql.DB
	table string
}

// NewThresholdRepository constructs a repository.
func NewThresholdRepository(db *sql.DB, opts ...ThresholdOption) *ThresholdRepository {
	repo := &ThresholdRepository{db: db, table: defaultThresholdsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ThresholdOption configures the repository.
type ThresholdOption func(*ThresholdRepository)

// WithThresholdTable overrides the default table name.
func WithThresholdTable(table string) ThresholdOption {
	return func(repo *ThresholdRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const thresholdColumns = `id, device_id, parameter, low_min, low_max, medium_min, medium_max, high_min, high_max, enabled, created_at, updated_at`

// GetEffective resolves a device-scoped threshold, falling back to the
// global row. NULLS LAST puts the device-scoped row first.
func (r *ThresholdRepository) GetEffective(ctx context.Context, deviceID, parameter string) (*thresholds.Threshold, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	if parameter == "" {
		return nil, errors.New("threshold repo: empty parameter")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE parameter = $1
  AND enabled = TRUE
  AND (device_id = $2 OR device_id IS NULL)
ORDER BY device_id NULLS LAST
LIMIT 1`, thresholdColumns, r.table)

	threshold, err := scanThreshold(r.db.QueryRowContext(ctx, query, parameter, deviceID))
	if err != nil {
		return nil, err
	}
	if threshold == nil {
		return nil, thresholds.ErrNotConfigured
	}
	return threshold, nil
}

// Get loads a threshold by id.
func (r *ThresholdRepository) Get(ctx context.Context, id string) (*thresholds.Threshold, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	if id == "" {
		return nil, errors.New("threshold repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, thresholdColumns, r.table)

	return scanThreshold(r.db.QueryRowContext(ctx, query, id))
}

// List returns thresholds, optionally filtered to one device scope.
// An empty deviceID lists everything including globals.
func (r *ThresholdRepository) List(ctx context.Context, deviceID string) ([]thresholds.Threshold, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE ($1 = '' OR device_id = $1)
ORDER BY parameter ASC, device_id NULLS FIRST`, thresholdColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []thresholds.Threshold
	for rows.Next() {
		threshold, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *threshold)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a threshold keyed by (device scope, parameter).
func (r *ThresholdRepository) Save(ctx context.Context, threshold *thresholds.Threshold) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if threshold == nil {
		return errors.New("threshold repo: nil threshold")
	}
	if err := threshold.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	parameter,
	low_min,
	low_max,
	medium_min,
	medium_max,
	high_min,
	high_max,
	enabled
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (COALESCE(device_id, ''), parameter)
DO UPDATE SET
	low_min = EXCLUDED.low_min,
	low_max = EXCLUDED.low_max,
	medium_min = EXCLUDED.medium_min,
	medium_max = EXCLUDED.medium_max,
	high_min = EXCLUDED.high_min,
	high_max = EXCLUDED.high_max,
	enabled = EXCLUDED.enabled,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		threshold.ID,
		nullableString(threshold.DeviceID),
		threshold.Parameter,
		threshold.LowMin,
		threshold.LowMax,
		threshold.MediumMin,
		threshold.MediumMax,
		threshold.HighMin,
		threshold.HighMax,
		threshold.Enabled,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if threshold.CreatedAt.IsZero() {
		threshold.CreatedAt = now
	}
	threshold.UpdatedAt = now
	return nil
}

// Delete removes a threshold by id.
func (r *ThresholdRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if id == "" {
		return errors.New("threshold repo: empty id")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return thresholds.ErrNotFound
	}
	return nil
}

type thresholdScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row thresholdScanner) (*thresholds.Threshold, error) {
	var threshold thresholds.Threshold
	var deviceID sql.NullString
	if err := row.Scan(
		&threshold.ID,
		&deviceID,
		&threshold.Parameter,
		&threshold.LowMin,
		&threshold.LowMax,
		&threshold.MediumMin,
		&threshold.MediumMax,
		&threshold.HighMin,
		&threshold.HighMax,
		&threshold.Enabled,
		&threshold.CreatedAt,
		&threshold.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if deviceID.Valid {
		threshold.DeviceID = deviceID.String
	}
	threshold.CreatedAt = threshold.CreatedAt.UTC()
	threshold.UpdatedAt = threshold.UpdatedAt.UTC()
	return &threshold, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
