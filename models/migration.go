package models

import (
	"log"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&PosCredential{}, &PosSyncRun{}, &PosSale{}, &PosSaleLine{}, &PosSyncOrderError{},
		&SalesDailySummary{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
