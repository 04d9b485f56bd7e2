package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	devices "gasgrid-cloud/internal/devices/domain"
	devicepostgres "gasgrid-cloud/internal/devices/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const devicesTestTable = "devices_it"

func openDeviceTestRepo(t *testing.T) (*sql.DB, *devicepostgres.DeviceRepository) {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, devicesTestTable)); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	device_type TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, devicesTestTable)); err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, devicesTestTable))
	})

	return db, devicepostgres.NewDeviceRepository(db, devicepostgres.WithDeviceTable(devicesTestTable))
}

func seedDevice(t *testing.T, repo *devicepostgres.DeviceRepository, clientID string, lastSeen time.Time) devices.Device {
	t.Helper()
	device := devices.Device{
		ID:         "dev-" + clientID,
		ClientID:   clientID,
		Name:       "station " + clientID,
		DeviceType: "SMS",
		Active:     true,
		LastSeen:   lastSeen,
	}
	if err := repo.Save(context.Background(), &device); err != nil {
		t.Fatalf("save device: %v", err)
	}
	return device
}

func TestDeviceRepository_TouchLastSeenMonotonic(t *testing.T) {
	_, repo := openDeviceTestRepo(t)
	ctx := context.Background()

	t1 := time.Date(2026, time.August, 3, 16, 0, 0, 0, time.UTC)
	seedDevice(t, repo, "SMS-001", t1)

	// A reading timestamped before the stored last-seen must not move
	// it backward.
	result, err := repo.TouchLastSeen(ctx, "SMS-001", t1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("touch older: %v", err)
	}
	if result.Advanced {
		t.Fatal("older timestamp reported as advanced")
	}
	device, err := repo.GetByClientID(ctx, "SMS-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !device.LastSeen.Equal(t1) {
		t.Fatalf("last_seen = %v, want %v", device.LastSeen, t1)
	}

	t2 := t1.Add(time.Minute)
	result, err = repo.TouchLastSeen(ctx, "SMS-001", t2)
	if err != nil {
		t.Fatalf("touch newer: %v", err)
	}
	if !result.Advanced {
		t.Fatal("newer timestamp not reported as advanced")
	}
	device, err = repo.GetByClientID(ctx, "SMS-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !device.LastSeen.Equal(t2) {
		t.Fatalf("last_seen = %v, want %v", device.LastSeen, t2)
	}
}

func TestDeviceRepository_TouchLastSeenRecovery(t *testing.T) {
	_, repo := openDeviceTestRepo(t)
	ctx := context.Background()

	t1 := time.Date(2026, time.August, 3, 16, 0, 0, 0, time.UTC)
	device := seedDevice(t, repo, "SMS-002", t1)
	if err := repo.MarkInactive(ctx, device.ID, t1.Add(10*time.Minute)); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}

	result, err := repo.TouchLastSeen(ctx, "SMS-002", t1.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !result.Recovered {
		t.Fatal("offline device touch not reported as recovery")
	}
	got, err := repo.GetByClientID(ctx, "SMS-002")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Active {
		t.Fatal("device not reactivated")
	}

	// An already-active device must not report recovery again.
	result, err = repo.TouchLastSeen(ctx, "SMS-002", t1.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("second touch: %v", err)
	}
	if result.Recovered {
		t.Fatal("active device reported as recovered")
	}
}

func TestDeviceRepository_TouchLastSeenUnknownDevice(t *testing.T) {
	_, repo := openDeviceTestRepo(t)

	_, err := repo.TouchLastSeen(context.Background(), "SMS-404", time.Now().UTC())
	if !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeviceRepository_SweepTransitionsOnce(t *testing.T) {
	_, repo := openDeviceTestRepo(t)
	ctx := context.Background()

	lastSeen := time.Date(2026, time.August, 3, 16, 0, 0, 0, time.UTC)
	cutoff := lastSeen.Add(5 * time.Minute)
	silent := seedDevice(t, repo, "SMS-003", lastSeen)
	seedDevice(t, repo, "SMS-004", cutoff.Add(time.Minute))

	listed, err := repo.ListActiveSilentSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("list silent: %v", err)
	}
	if len(listed) != 1 || listed[0].ClientID != "SMS-003" {
		t.Fatalf("silent = %+v, want only SMS-003", listed)
	}

	if err := repo.MarkInactive(ctx, silent.ID, cutoff); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}

	// An inactive device must drop out of the sweep candidate set.
	listed, err = repo.ListActiveSilentSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("list silent again: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("silent = %+v, want none after transition", listed)
	}

	if err := repo.MarkInactive(ctx, silent.ID, cutoff); err != nil {
		t.Fatalf("repeat mark inactive: %v", err)
	}
}
