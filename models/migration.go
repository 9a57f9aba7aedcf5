package models

import (
	"log"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Category{}, &Unit{}, &Product{},
		&ProductCodeSequence{},
		&CatalogEventRecord{},
	)
	if err != nil {
		log.Println(err.Error())
	}
}
