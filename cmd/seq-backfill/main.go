package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Seeds product_code_sequences from existing product rows. The service
// seeds counters lazily on first allocation; this job pre-seeds them in
// bulk after an import or a restore so the first live create does not
// race the seed.
//
// Counts include soft-deleted products: codes are never reused.

type categoryCountScan struct {
	ClientId   string `gorm:"column:client_id"`
	CategoryId int    `gorm:"column:category_id"`
	Total      int64  `gorm:"column:total"`
}

func main() {
	clientId := flag.String("client-id", "", "Client ID to backfill (optional; default = all)")
	dryRun := flag.Bool("dry-run", true, "Print actions without writing")
	repair := flag.Bool("repair", false, "Also raise existing counters that lag behind the product count")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		panic("database not initialized")
	}
	logger := config.GetLogger()
	if logger == nil {
		logger = logrus.New()
	}

	query := db.Model(&models.Product{}).
		Select("client_id, category_id, COUNT(*) AS total").
		Where("category_id > 0").
		Group("client_id, category_id")
	if strings.TrimSpace(*clientId) != "" {
		query = query.Where("client_id = ?", strings.TrimSpace(*clientId))
	}

	var rows []categoryCountScan
	if err := query.Scan(&rows).Error; err != nil {
		panic(err)
	}

	seeded, repaired, skipped := 0, 0, 0
	for _, r := range rows {
		if r.ClientId == "" || r.CategoryId == 0 {
			continue
		}
		want := int(r.Total) + 1

		var seq models.ProductCodeSequence
		err := db.Where("client_id = ? AND category_id = ?", r.ClientId, r.CategoryId).First(&seq).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if *dryRun {
				logger.WithFields(logrus.Fields{
					"client_id":   r.ClientId,
					"category_id": r.CategoryId,
					"next_seq":    want,
				}).Info("dry-run: would seed sequence")
				seeded++
				continue
			}
			seq = models.ProductCodeSequence{
				ClientId:   r.ClientId,
				CategoryId: r.CategoryId,
				NextSeq:    want,
				UpdatedAt:  time.Now().UTC(),
			}
			if err := db.Create(&seq).Error; err != nil {
				panic(err)
			}
			seeded++
		case err != nil:
			panic(err)
		case seq.NextSeq < want && *repair:
			if *dryRun {
				logger.WithFields(logrus.Fields{
					"client_id":   r.ClientId,
					"category_id": r.CategoryId,
					"old_seq":     seq.NextSeq,
					"next_seq":    want,
				}).Info("dry-run: would raise lagging sequence")
				repaired++
				continue
			}
			if err := db.Model(&models.ProductCodeSequence{}).
				Where("client_id = ? AND category_id = ?", r.ClientId, r.CategoryId).
				Updates(map[string]interface{}{
					"next_seq":   want,
					"updated_at": time.Now().UTC(),
				}).Error; err != nil {
				panic(err)
			}
			repaired++
		default:
			skipped++
		}
	}

	fmt.Printf("sequence backfill completed: seeded=%d repaired=%d skipped=%d\n", seeded, repaired, skipped)
}
