package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mpesa-billing/internal/models"
)

// Settings reads and writes key/value rows of tbl_appconfig.
type Settings struct {
	DB *gorm.DB
}

func NewSettings(db *gorm.DB) *Settings {
	return &Settings{DB: db}
}

func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	var rows []models.AppConfig
	if err := s.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Setting] = row.Value
	}
	return out, nil
}

// Save upserts every given setting.
func (s *Settings) Save(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	rows := make([]models.AppConfig, 0, len(values))
	for k, v := range values {
		rows = append(rows, models.AppConfig{Setting: k, Value: v})
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
