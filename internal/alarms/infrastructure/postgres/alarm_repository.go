package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "gasgrid-cloud/internal/alarms/domain"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

const defaultAlarmsTable = "alarms"

// AlarmRepository is a Postgres repository for alarms.
type AlarmRepository struct {
	db    *sql.DB
	table string
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db, table: defaultAlarmsTable}
}

const alarmColumns = `id, device_id, client_id, parameter, severity, value, last_value, band_min, band_max, acknowledged, acked_by, acked_at, triggered_at, created_at, updated_at`

// Create inserts a new alarm.
func (r *AlarmRepository) Create(ctx context.Context, alarm *alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if err := alarm.Validate(); err != nil {
		return err
	}
	if alarm.CreatedAt.IsZero() {
		alarm.CreatedAt = time.Now().UTC()
	}
	if alarm.UpdatedAt.IsZero() {
		alarm.UpdatedAt = alarm.CreatedAt
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, device_id, client_id, parameter, severity, value, last_value,
	band_min, band_max, acknowledged, acked_by, acked_at, triggered_at,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		alarm.ID,
		alarm.DeviceID,
		alarm.ClientID,
		alarm.Parameter,
		string(alarm.Severity),
		alarm.Value,
		alarm.LastValue,
		alarm.BandMin,
		alarm.BandMax,
		alarm.Acknowledged,
		nullableString(alarm.AckedBy),
		nullableTime(alarm.AckedAt),
		alarm.TriggeredAt.UTC(),
		alarm.CreatedAt,
		alarm.UpdatedAt,
	)
	return err
}

// GetByID fetches an alarm by id.
func (r *AlarmRepository) GetByID(ctx context.Context, id string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, alarmColumns, r.table)
	return scanAlarm(r.db.QueryRowContext(ctx, query, id))
}

// FindOpenByDeviceParameter returns the newest unacknowledged alarm
// for the device/parameter pair.
func (r *AlarmRepository) FindOpenByDeviceParameter(ctx context.Context, deviceID, parameter string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if deviceID == "" || parameter == "" {
		return nil, errors.New("alarm repo: invalid query")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND parameter = $2 AND acknowledged = FALSE
ORDER BY created_at DESC
LIMIT 1`, alarmColumns, r.table)
	return scanAlarm(r.db.QueryRowContext(ctx, query, deviceID, parameter))
}

// UpdateLastValue refreshes the last observed value.
func (r *AlarmRepository) UpdateLastValue(ctx context.Context, id string, value float64, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_value = $1, updated_at = $2
WHERE id = $3`, r.table)
	_, err := r.db.ExecContext(ctx, query, value, updatedAt.UTC(), id)
	return err
}

// MarkAcknowledged records the acknowledgement.
func (r *AlarmRepository) MarkAcknowledged(ctx context.Context, id, ackedBy string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET acknowledged = TRUE, acked_by = $1, acked_at = $2, updated_at = $2
WHERE id = $3`, r.table)
	result, err := r.db.ExecContext(ctx, query, nullableString(ackedBy), ackedAt.UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alarms.ErrNotFound
	}
	return nil
}

// Delete removes an alarm by id.
func (r *AlarmRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if id == "" {
		return errors.New("alarm repo: empty id")
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
		return alarms.ErrNotFound
	}
	return nil
}

// DeleteByFilter bulk-removes matching alarms.
func (r *AlarmRepository) DeleteByFilter(ctx context.Context, filter alarms.Filter) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alarm repo: nil db")
	}
	where, args := buildFilter(filter)
	query := fmt.Sprintf(`DELETE FROM %s%s`, r.table, where)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAcknowledgedBefore purges acknowledged alarms older than the
// cutoff. Used by retention.
func (r *AlarmRepository) DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE acknowledged = TRUE AND triggered_at < $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// List returns matching alarms, newest first.
func (r *AlarmRepository) List(ctx context.Context, filter alarms.Filter) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT %s
FROM %s%s
ORDER BY triggered_at DESC
LIMIT $%d`, alarmColumns, r.table, where, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats aggregates alarm counts.
func (r *AlarmRepository) Stats(ctx context.Context) (alarms.Stats, error) {
	if r == nil || r.db == nil {
		return alarms.Stats{}, errors.New("alarm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT severity, acknowledged, COUNT(*)
FROM %s
GROUP BY severity, acknowledged`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return alarms.Stats{}, err
	}
	defer rows.Close()

	stats := alarms.Stats{BySeverity: make(map[thresholds.Severity]int)}
	for rows.Next() {
		var severity string
		var acknowledged bool
		var count int
		if err := rows.Scan(&severity, &acknowledged, &count); err != nil {
			return alarms.Stats{}, err
		}
		stats.Total += count
		if !acknowledged {
			stats.Unacknowledged += count
		}
		stats.BySeverity[thresholds.Severity(severity)] += count
	}
	if err := rows.Err(); err != nil {
		return alarms.Stats{}, err
	}
	return stats, nil
}

func buildFilter(filter alarms.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.DeviceID != "" {
		add("device_id = $%d", filter.DeviceID)
	}
	if filter.Parameter != "" {
		add("parameter = $%d", filter.Parameter)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.Acknowledged != nil {
		add("acknowledged = $%d", *filter.Acknowledged)
	}
	if !filter.From.IsZero() {
		add("triggered_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("triggered_at < $%d", filter.To.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}

type alarmScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row alarmScanner) (*alarms.Alarm, error) {
	var alarm alarms.Alarm
	var severity string
	var ackedBy sql.NullString
	var ackedAt sql.NullTime
	if err := row.Scan(
		&alarm.ID,
		&alarm.DeviceID,
		&alarm.ClientID,
		&alarm.Parameter,
		&severity,
		&alarm.Value,
		&alarm.LastValue,
		&alarm.BandMin,
		&alarm.BandMax,
		&alarm.Acknowledged,
		&ackedBy,
		&ackedAt,
		&alarm.TriggeredAt,
		&alarm.CreatedAt,
		&alarm.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alarm.Severity = thresholds.Severity(severity)
	if ackedBy.Valid {
		alarm.AckedBy = ackedBy.String
	}
	if ackedAt.Valid {
		alarm.AckedAt = ackedAt.Time.UTC()
	}
	alarm.TriggeredAt = alarm.TriggeredAt.UTC()
	alarm.CreatedAt = alarm.CreatedAt.UTC()
	alarm.UpdatedAt = alarm.UpdatedAt.UTC()
	return &alarm, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
