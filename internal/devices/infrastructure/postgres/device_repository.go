package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "gasgrid-cloud/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DBTX abstracts *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const deviceColumns = `id, client_id, name, device_type, location, latitude, longitude, active, last_seen, created_at, updated_at`

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, deviceColumns, r.table)

	return scanDevice(r.db.QueryRowContext(ctx, query, id))
}

// GetByClientID loads a device by its client id.
func (r *DeviceRepository) GetByClientID(ctx context.Context, clientID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if clientID == "" {
		return nil, errors.New("device repo: empty client id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE client_id = $1
LIMIT 1`, deviceColumns, r.table)

	return scanDevice(r.db.QueryRowContext(ctx, query, clientID))
}

// List loads all devices ordered by client id.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY client_id ASC`, deviceColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device keyed by client id.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	client_id,
	name,
	device_type,
	location,
	latitude,
	longitude,
	active,
	last_seen
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (client_id)
DO UPDATE SET
	name = EXCLUDED.name,
	device_type = EXCLUDED.device_type,
	location = EXCLUDED.location,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.ID,
		device.ClientID,
		device.Name,
		device.DeviceType,
		device.Location,
		device.Latitude,
		device.Longitude,
		device.Active,
		nullableTime(device.LastSeen),
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// Delete removes a device by id.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return errors.New("device repo: empty id")
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
		return devices.ErrNotFound
	}
	return nil
}

// TouchLastSeen advances last-seen and reactivates in one statement.
// The ingest path and the liveness sweep both mutate active/last-seen;
// routing the ingest-side mutation through a single conditional UPDATE
// keeps the two writers serialized per device row.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, clientID string, at time.Time) (devices.TouchResult, error) {
	if r == nil || r.db == nil {
		return devices.TouchResult{}, errors.New("device repo: nil db")
	}
	if clientID == "" {
		return devices.TouchResult{}, errors.New("device repo: empty client id")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query := fmt.Sprintf(`
WITH prior AS (
	SELECT id, active, last_seen
	FROM %s
	WHERE client_id = $1
),
updated AS (
	UPDATE %s d
	SET active = TRUE,
		last_seen = GREATEST(COALESCE(d.last_seen, $2), $2),
		updated_at = NOW()
	FROM prior p
	WHERE d.id = p.id
	RETURNING d.id
)
SELECT p.active, (p.last_seen IS NULL OR p.last_seen < $2)
FROM prior p`, r.table, r.table)

	var wasActive, advanced bool
	if err := r.db.QueryRowContext(ctx, query, clientID, at.UTC()).Scan(&wasActive, &advanced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return devices.TouchResult{}, devices.ErrNotFound
		}
		return devices.TouchResult{}, err
	}
	return devices.TouchResult{Advanced: advanced, Recovered: !wasActive}, nil
}

// ListActiveSilentSince returns active devices silent past the cutoff.
func (r *DeviceRepository) ListActiveSilentSince(ctx context.Context, cutoff time.Time) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE active = TRUE AND last_seen IS NOT NULL AND last_seen < $1
ORDER BY last_seen ASC`, deviceColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkInactive flips a device offline. Conditional on active so a
// device already offline is not transitioned twice.
func (r *DeviceRepository) MarkInactive(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return errors.New("device repo: empty id")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET active = FALSE, updated_at = $1
WHERE id = $2 AND active = TRUE`, r.table)
	_, err := r.db.ExecContext(ctx, query, at.UTC(), id)
	return err
}

type deviceScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceScanner) (*devices.Device, error) {
	var device devices.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.ClientID,
		&device.Name,
		&device.DeviceType,
		&device.Location,
		&device.Latitude,
		&device.Longitude,
		&device.Active,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
