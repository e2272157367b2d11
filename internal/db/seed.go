package db

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
)

// SeedAdmin создаёт администратора-арбитра, если пользователя с таким именем ещё нет.
func SeedAdmin(db *gorm.DB, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, errors.New("admin username and password required")
	}
	var existing models.User
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		if existing.Role != models.UserRoleAdmin {
			if err := db.Model(&existing).Update("role", models.UserRoleAdmin).Error; err != nil {
				return nil, err
			}
			existing.Role = models.UserRoleAdmin
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	pwd := string(hash)
	admin := models.User{Username: username, Password: &pwd, Role: models.UserRoleAdmin}
	if err := db.Create(&admin).Error; err != nil {
		return nil, err
	}
	return &admin, nil
}
