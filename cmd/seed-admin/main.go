// seed-admin creates or updates the admin console user (username: opsboardAdmin).
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

const (
	adminUsername = "opsboardAdmin"
	adminName     = "OpsBoard Admin"
)

func main() {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var biz models.Business
	err := db.WithContext(ctx).Model(&models.Business{}).First(&biz).Error
	if err == gorm.ErrRecordNotFound {
		biz = models.Business{
			Name:     "OpsBoard Demo",
			Timezone: "Asia/Yangon",
			IsActive: utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&biz).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create business: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created business %q (%s)\n", biz.Name, biz.ID)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
		os.Exit(1)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username:   adminUsername,
			Name:       adminName,
			Password:   hashed,
			IsActive:   utils.NewTrue(),
			Role:       models.UserRoleAdmin,
			BusinessId: businessID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":    hashed,
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = config.RemoveRedisKey("User:" + adminUsername)
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
}
