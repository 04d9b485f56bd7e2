package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const readingColumns = `id, device_id, client_id, ts, diff_pressure, static_pressure, temperature, flow_rate, volume, battery, max_static_pressure, min_static_pressure, extras, created_at`

// Insert stores a reading. The unique index on (client_id, ts) is the
// dedup guard; a conflicting insert affects zero rows and maps to
// ErrDuplicate.
func (r *ReadingRepository) Insert(ctx context.Context, reading *telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	extras, err := marshalExtras(reading.Extras)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_id,
	client_id,
	ts,
	diff_pressure,
	static_pressure,
	temperature,
	flow_rate,
	volume,
	battery,
	max_static_pressure,
	min_static_pressure,
	extras
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT (client_id, ts) DO NOTHING`, r.table)

	result, err := r.db.ExecContext(
		ctx,
		query,
		reading.ID,
		reading.DeviceID,
		reading.ClientID,
		reading.Timestamp.UTC(),
		nullableFloat(reading.DifferentialPressure),
		nullableFloat(reading.StaticPressure),
		nullableFloat(reading.Temperature),
		nullableFloat(reading.FlowRate),
		nullableFloat(reading.Volume),
		nullableFloat(reading.Battery),
		nullableFloat(reading.MaxStaticPressure),
		nullableFloat(reading.MinStaticPressure),
		extras,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return telemetry.ErrDuplicate
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Latest loads the most recent reading for a device.
func (r *ReadingRepository) Latest(ctx context.Context, deviceID string) (*telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
ORDER BY ts DESC
LIMIT 1`, readingColumns, r.table)

	return scanReading(r.db.QueryRowContext(ctx, query, deviceID))
}

// ListRecent loads the newest readings for a device, newest first.
func (r *ReadingRepository) ListRecent(ctx context.Context, deviceID string, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
ORDER BY ts DESC
LIMIT $2`, readingColumns, r.table)

	return r.queryReadings(ctx, query, deviceID, limit)
}

// ListRange loads readings inside [from, to), oldest first.
func (r *ReadingRepository) ListRange(ctx context.Context, deviceID string, from, to time.Time) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading repo: empty device id")
	}
	if !to.After(from) {
		return nil, errors.New("reading repo: to must be after from")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts ASC`, readingColumns, r.table)

	return r.queryReadings(ctx, query, deviceID, from.UTC(), to.UTC())
}

// DeleteBefore purges readings older than the cutoff and returns the
// number removed.
func (r *ReadingRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *ReadingRepository) queryReadings(ctx context.Context, query string, args ...any) ([]telemetry.Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type readingScanner interface {
	Scan(dest ...any) error
}

func scanReading(row readingScanner) (*telemetry.Reading, error) {
	var reading telemetry.Reading
	var (
		diffPressure, staticPressure, temperature, flowRate   sql.NullFloat64
		volume, battery, maxStaticPressure, minStaticPressure sql.NullFloat64
		extras                                                []byte
	)
	if err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.ClientID,
		&reading.Timestamp,
		&diffPressure,
		&staticPressure,
		&temperature,
		&flowRate,
		&volume,
		&battery,
		&maxStaticPressure,
		&minStaticPressure,
		&extras,
		&reading.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reading.DifferentialPressure = floatPtr(diffPressure)
	reading.StaticPressure = floatPtr(staticPressure)
	reading.Temperature = floatPtr(temperature)
	reading.FlowRate = floatPtr(flowRate)
	reading.Volume = floatPtr(volume)
	reading.Battery = floatPtr(battery)
	reading.MaxStaticPressure = floatPtr(maxStaticPressure)
	reading.MinStaticPressure = floatPtr(minStaticPressure)
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &reading.Extras); err != nil {
			return nil, err
		}
	}
	reading.Timestamp = reading.Timestamp.UTC()
	reading.CreatedAt = reading.CreatedAt.UTC()
	return &reading, nil
}

func marshalExtras(extras map[string]float64) ([]byte, error) {
	if len(extras) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(extras)
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}
