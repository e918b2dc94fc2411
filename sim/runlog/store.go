// Package runlog persists the outcome of policy runs.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
)

var ErrRunNotFound = errors.New("run not found")

// MemoryDSN keeps the run log in memory for the life of the process
const MemoryDSN = ":memory:"

// Run outcomes
const (
	OutcomeGoal     = "goal"
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
)

// Run is one recorded policy execution
type Run struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Policy           string    `gorm:"index" json:"policy"`
	Map              string    `gorm:"index" json:"map"`
	Outcome          string    `json:"outcome"`
	Error            string    `json:"error,omitempty"`
	DistanceTraveled float64   `json:"distance_traveled"`
	DistanceOffLine  float64   `json:"distance_off_line"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationMs       int64     `json:"duration_ms"`
}

// FromResult converts an engine run result to a record with a new ID
func FromResult(r engine.RunResult) *Run {
	run := &Run{
		ID:               uuid.NewString(),
		Policy:           r.Policy,
		Map:              r.Map,
		DistanceTraveled: r.Metrics.DistanceTraveled,
		DistanceOffLine:  r.Metrics.DistanceOffLine,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		DurationMs:       r.EndedAt.Sub(r.StartedAt).Milliseconds(),
	}

	switch {
	case r.Err != nil:
		run.Outcome = OutcomeFailed
		run.Error = r.Err.Error()
	case r.Goal:
		run.Outcome = OutcomeGoal
	default:
		run.Outcome = OutcomeFinished
	}
	return run
}

// Filter narrows a listing; zero fields match everything
type Filter struct {
	Map    string
	Policy string
	Limit  int
}

// DefaultListLimit caps listings without an explicit limit
const DefaultListLimit = 50

// Store records runs in a SQL database through gorm
type Store struct {
	db *gorm.DB
}

// Open connects to a sqlite database and migrates the schema. An empty
// dsn opens an in-memory database.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	// every new connection to :memory: is a separate database
	if dsn == MemoryDSN {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Run{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate run log: %w", err)
	}

	log.Printf("Run log ready (%s)", dsn)
	return &Store{db: db}, nil
}

// Record stores the result of a run
func (s *Store) Record(ctx context.Context, result engine.RunResult) (*Run, error) {
	run := FromResult(result)
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := s.db.WithContext(ctx)
	if f.Map != "" {
		q = q.Where("map = ?", f.Map)
	}
	if f.Policy != "" {
		q = q.Where("policy = ?", f.Policy)
	}

	var runs []Run
	err := q.Order("created_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Get returns a run by ID
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Close releases the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
