package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/gradeflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a run record does not exist.
var ErrNotFound = errors.New("run record not found")

// Repository persists grading run timings.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record stores the outcome of a finished run, replacing any earlier record with the same run ID.
func (r *Repository) Record(ctx context.Context, outcome domain.RunOutcome) error {
	rec, err := domain.NewRunRecord(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// List returns run records, newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]domain.RunRecord, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.RunRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count run records: %w", err)
	}

	var records []domain.RunRecord
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list run records: %w", err)
	}
	return records, total, nil
}

// Get returns the record for one run.
func (r *Repository) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	return &rec, nil
}
