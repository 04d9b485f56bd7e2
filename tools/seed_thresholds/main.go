// Command seed_thresholds loads a YAML band table into the thresholds
// store. Existing rows for the same device/parameter are overwritten.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gopkg.in/yaml.v3"

	thresholds "gasgrid-cloud/internal/thresholds/domain"
	thresholdrepo "gasgrid-cloud/internal/thresholds/infrastructure/postgres"
)

type seedFile struct {
	Thresholds []seedThreshold `yaml:"thresholds"`
}

type seedThreshold struct {
	DeviceID  string  `yaml:"device_id"`
	Parameter string  `yaml:"parameter"`
	LowMin    float64 `yaml:"low_min"`
	LowMax    float64 `yaml:"low_max"`
	MediumMin float64 `yaml:"medium_min"`
	MediumMax float64 `yaml:"medium_max"`
	HighMin   float64 `yaml:"high_min"`
	HighMax   float64 `yaml:"high_max"`
	Enabled   *bool   `yaml:"enabled"`
}

func main() {
	var dbURL, path string
	flag.StringVar(&dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&path, "file", "thresholds.yaml", "YAML band table path")
	flag.Parse()

	if dbURL == "" {
		log.Fatal("db DSN is required (-db or DATABASE_URL)")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		log.Fatalf("parse %s: %v", path, err)
	}
	if len(file.Thresholds) == 0 {
		log.Fatalf("%s defines no thresholds", path)
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	repo := thresholdrepo.NewThresholdRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, seed := range file.Thresholds {
		enabled := true
		if seed.Enabled != nil {
			enabled = *seed.Enabled
		}
		threshold := &thresholds.Threshold{
			ID:        uuid.NewString(),
			DeviceID:  seed.DeviceID,
			Parameter: seed.Parameter,
			LowMin:    seed.LowMin,
			LowMax:    seed.LowMax,
			MediumMin: seed.MediumMin,
			MediumMax: seed.MediumMax,
			HighMin:   seed.HighMin,
			HighMax:   seed.HighMax,
			Enabled:   enabled,
		}
		if err := threshold.Validate(); err != nil {
			log.Fatalf("threshold %s/%s: %v", seed.DeviceID, seed.Parameter, err)
		}
		if err := repo.Save(ctx, threshold); err != nil {
			log.Fatalf("save %s/%s: %v", seed.DeviceID, seed.Parameter, err)
		}
		scope := seed.DeviceID
		if scope == "" {
			scope = "global"
		}
		log.Printf("seeded %s/%s", scope, seed.Parameter)
	}
	log.Printf("done: %d thresholds", len(file.Thresholds))
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
