// Package store keeps calibration results in a MySQL database.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Calibration is one stored set of calibration parameters.
type Calibration struct {
	ID    string `gorm:"primaryKey;size:36"`
	RunID string `gorm:"index;size:36"`
	// Kind is the calibration family, e.g. "energy_loss" or
	// "cluster_size".
	Kind string `gorm:"index:idx_kind_name;size:64"`
	// Name identifies the calibrated species or detector.
	Name      string `gorm:"index:idx_kind_name;size:128"`
	Params    string `gorm:"type:text"`
	Chi2      float64
	NDF       int
	CreatedAt time.Time
}

// Values decodes the stored parameters.
func (c *Calibration) Values() (map[string]float64, error) {
	m := make(map[string]float64)
	if err := json.Unmarshal([]byte(c.Params), &m); err != nil {
		return nil, fmt.Errorf("store: calibration %s: %w", c.ID, err)
	}
	return m, nil
}

type Store struct {
	db *gorm.DB
}

// Open connects to the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or updates the calibrations table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Calibration{})
}

// NewRunID returns an identifier grouping the calibrations of one run.
func NewRunID() string { return uuid.NewV4().String() }

// Save stores params as a calibration of the given kind and name.
func (s *Store) Save(ctx context.Context, runID, kind, name string, params map[string]float64, chi2 float64, ndf int) (*Calibration, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	c := &Calibration{
		ID:     uuid.NewV4().String(),
		RunID:  runID,
		Kind:   kind,
		Name:   name,
		Params: string(raw),
		Chi2:   chi2,
		NDF:    ndf,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("store: saving %s/%s: %w", kind, name, err)
	}
	return c, nil
}

// Latest returns the most recent calibration of the given kind and name.
func (s *Store) Latest(ctx context.Context, kind, name string) (*Calibration, error) {
	var c Calibration
	if err := s.latest(ctx, kind, name).Take(&c).Error; err != nil {
		return nil, fmt.Errorf("store: %s/%s: %w", kind, name, err)
	}
	return &c, nil
}

// Run returns the calibrations saved under runID.
func (s *Store) Run(ctx context.Context, runID string) ([]Calibration, error) {
	var cs []Calibration
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at").Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("store: run %s: %w", runID, err)
	}
	return cs, nil
}

func (s *Store) latest(ctx context.Context, kind, name string) *gorm.DB {
	return s.db.WithContext(ctx).Where("kind = ? AND name = ?", kind, name).Order("created_at desc")
}
