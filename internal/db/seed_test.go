package db

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
)

func TestSeedAdmin(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file:seed_admin?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	admin, err := SeedAdmin(gdb, "arbiter", "secret")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if admin.Role != models.UserRoleAdmin {
		t.Fatalf("expected admin role, got %s", admin.Role)
	}

	// повторный вызов не создаёт дубликат
	again, err := SeedAdmin(gdb, "arbiter", "secret")
	if err != nil {
		t.Fatalf("seed again: %v", err)
	}
	if again.ID != admin.ID {
		t.Fatalf("expected same admin, got %s vs %s", again.ID, admin.ID)
	}
	var count int64
	gdb.Model(&models.User{}).Where("username = ?", "arbiter").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 admin, got %d", count)
	}
}

func TestSeedAdminPromotesExistingUser(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file:seed_promote?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	u := models.User{Username: "mod"}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	admin, err := SeedAdmin(gdb, "mod", "secret")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !admin.IsAdmin() {
		t.Fatalf("expected promotion to admin")
	}
}
