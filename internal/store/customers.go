package store

import (
	"context"

	"gorm.io/gorm"

	"mpesa-billing/internal/models"
)

type Customers struct {
	DB *gorm.DB
}

func NewCustomers(db *gorm.DB) *Customers {
	return &Customers{DB: db}
}

func (s *Customers) FindByUsername(ctx context.Context, username string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.DB.WithContext(ctx).Where("username = ?", username).First(&customer).Error; err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Customers) FindByID(ctx context.Context, id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := s.DB.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}
