package squaresync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
)

// SweepAbandonedRuns fails any run stuck in processing for longer than
// olderThan. A crashed worker leaves its run in processing forever; without
// this sweep the tenant sees a sync that never finishes and operators chase a
// job that no longer exists.
func SweepAbandonedRuns(ctx context.Context, db *gorm.DB, olderThan time.Duration) (int64, error) {
	logger := config.GetLogger()
	cutoff := time.Now().Add(-olderThan)
	now := time.Now()

	res := db.WithContext(ctx).Model(&models.PosSyncRun{}).
		Where("status = ? AND created_at < ?", models.SyncRunStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        models.SyncRunStatusFailed,
			"error_message": "abandoned: worker did not finalize the run",
			"completed_at":  now,
		})
	if res.Error != nil {
		config.LogError(logger, "watchdog.go", "SweepAbandonedRuns", "update", nil, res.Error)
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		logger.WithFields(logrus.Fields{
			"field":  "SweepAbandonedRuns",
			"swept":  res.RowsAffected,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		}).Warn("marked abandoned sync runs failed")
	}
	return res.RowsAffected, nil
}
