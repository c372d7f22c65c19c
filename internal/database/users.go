package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"immotech/server/internal/models"
)

func (d *Database) InsertUser(ctx context.Context, u *models.User) error {
	err := d.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("insert user %s: %w", u.Email, models.ErrConflict)
	}
	if err != nil {
		return backendErr("insert user", err)
	}
	return nil
}

func (d *Database) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, lookupErr("get user "+id, err)
	}
	return &u, nil
}

func (d *Database) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := d.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, backendErr("list users", err)
	}
	return users, nil
}

func (d *Database) UpdateUserRole(ctx context.Context, id, role string) error {
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return backendErr("update user role", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update user role %s: %w", id, models.ErrNotFound)
	}
	return nil
}
