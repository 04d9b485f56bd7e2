package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ReadingPurger deletes readings older than a cutoff.
type ReadingPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlarmPurger deletes acknowledged alarms older than a cutoff.
type AlarmPurger interface {
	DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Result reports one purge pass.
type Result struct {
	ReadingsDeleted int64     `json:"readings_deleted"`
	AlarmsDeleted   int64     `json:"alarms_deleted"`
	Cutoffs         Cutoffs   `json:"cutoffs"`
	RanAt           time.Time `json:"ran_at"`
}

// Cutoffs are the deletion boundaries of one pass.
type Cutoffs struct {
	Readings time.Time `json:"readings"`
	Alarms   time.Time `json:"alarms"`
}

// Sweeper periodically purges old readings and acknowledged alarms.
// Open alarms are never purged here regardless of age.
type Sweeper struct {
	readings ReadingPurger
	alarms   AlarmPurger
	logger   zerolog.Logger

	interval      time.Duration
	readingMaxAge time.Duration
	alarmMaxAge   time.Duration
	clock         Clock
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithInterval overrides the purge cadence.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithReadingMaxAge overrides how long readings are kept.
func WithReadingMaxAge(age time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if age > 0 {
			s.readingMaxAge = age
		}
	}
}

// WithAlarmMaxAge overrides how long acknowledged alarms are kept.
func WithAlarmMaxAge(age time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if age > 0 {
			s.alarmMaxAge = age
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSweeper constructs a retention sweeper.
func NewSweeper(readings ReadingPurger, alarms AlarmPurger, logger zerolog.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if readings == nil {
		return nil, errors.New("retention: nil reading purger")
	}
	if alarms == nil {
		return nil, errors.New("retention: nil alarm purger")
	}
	sweeper := &Sweeper{
		readings:      readings,
		alarms:        alarms,
		logger:        logger,
		interval:      time.Hour,
		readingMaxAge: 90 * 24 * time.Hour,
		alarmMaxAge:   30 * 24 * time.Hour,
		clock:         systemClock{},
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	return sweeper, nil
}

// Run purges on a fixed interval until the context is cancelled.
// Errors are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("retention purge failed")
			}
		}
	}
}

// RunOnce performs a single purge pass.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	if s == nil {
		return nil, errors.New("retention: nil sweeper")
	}
	now := s.clock.Now().UTC()
	result := &Result{
		RanAt: now,
		Cutoffs: Cutoffs{
			Readings: now.Add(-s.readingMaxAge),
			Alarms:   now.Add(-s.alarmMaxAge),
		},
	}

	deleted, err := s.readings.DeleteBefore(ctx, result.Cutoffs.Readings)
	if err != nil {
		return nil, err
	}
	result.ReadingsDeleted = deleted

	deleted, err = s.alarms.DeleteAcknowledgedBefore(ctx, result.Cutoffs.Alarms)
	if err != nil {
		return nil, err
	}
	result.AlarmsDeleted = deleted

	if result.ReadingsDeleted > 0 || result.AlarmsDeleted > 0 {
		s.logger.Info().
			Int64("readings_deleted", result.ReadingsDeleted).
			Int64("alarms_deleted", result.AlarmsDeleted).
			Msg("retention purge complete")
	}
	return result, nil
}
