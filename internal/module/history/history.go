// Package history persists finished generation runs for browsing.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("history record not found")

// Record is one finished generation run.
type Record struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title     string    `json:"title" gorm:"not null"`
	Thumbnail string    `json:"thumbnail"`
	Input     string    `json:"input" gorm:"type:jsonb"`
	Result    string    `json:"result" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"created_at"`
}

func (Record) TableName() string {
	return "generation_history"
}

// Repository defines history data access.
type Repository interface {
	Save(ctx context.Context, title, thumbnail string, input, result any) error
	List(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Migrate creates the history table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

func (r *repository) Save(ctx context.Context, title, thumbnail string, input, result any) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	rec := Record{
		ID:        uuid.New(),
		Title:     title,
		Thumbnail: thumbnail,
		Input:     string(inputJSON),
		Result:    string(resultJSON),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *repository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var records []Record
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get history record: %w", err)
	}
	return &rec, nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete history record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
