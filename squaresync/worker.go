package squaresync

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
	"bitbucket.org/mmdatafocus/opsboard_backend/vault"
)

// defaultSyncWindow is the trailing window used when a trigger carries no
// explicit date range.
const defaultSyncWindow = 7 * 24 * time.Hour

// defaultPageDelay is the pause between order pages. The provider tolerates
// far more than this; the point is staying out of the rate limiter during
// large backfills, not precise pacing.
const defaultPageDelay = 150 * time.Millisecond

// Engine runs sales synchronization for one provider. It owns no database
// handle; callers pass one in so the engine works the same from an HTTP
// handler, a push worker or a one-shot command.
type Engine struct {
	vault     *vault.Vault
	client    *posClient
	pageDelay time.Duration
	sleep     func(time.Duration)
}

func NewEngine() (*Engine, error) {
	v, err := vault.New(os.Getenv("POS_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}
	client, err := newPosClient()
	if err != nil {
		return nil, err
	}
	pageDelay := time.Duration(utils.IntFromEnv("SQUARE_PAGE_DELAY_MS", int(defaultPageDelay/time.Millisecond))) * time.Millisecond
	return &Engine{
		vault:     v,
		client:    client,
		pageDelay: pageDelay,
		sleep:     time.Sleep,
	}, nil
}

// SyncSales imports completed orders for one business over a date window and
// finalizes a run record with the outcome. The run row is written in
// processing state before the first external call so an abandoned run is
// always visible to the watchdog.
func (e *Engine) SyncSales(ctx context.Context, db *gorm.DB, businessId string, locationId string, dateFrom *time.Time, dateTo *time.Time, triggeredBy string) SyncResult {
	logger := config.GetLogger()

	now := time.Now().UTC()
	to := utils.DereferencePtr(dateTo, now).UTC()
	from := utils.DereferencePtr(dateFrom, to.Add(-defaultSyncWindow)).UTC()

	result := SyncResult{
		RevenueTotal: decimal.Zero,
		DateFrom:     from.Format(time.RFC3339),
		DateTo:       to.Format(time.RFC3339),
	}

	if from.After(to) {
		result.Error = "dateFrom is after dateTo"
		result.ErrorClass = ClassValidation
		return result
	}

	run := models.PosSyncRun{
		BusinessId:  businessId,
		Provider:    models.IntegrationProviderSquare,
		LocationId:  locationId,
		Status:      models.SyncRunStatusProcessing,
		TriggeredBy: triggeredBy,
		DateFrom:    from,
		DateTo:      to,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		config.LogError(logger, "worker.go", "SyncSales", "create run", nil, err)
		result.Error = err.Error()
		result.ErrorClass = ClassUnknown
		return result
	}
	result.SyncRunId = run.ID

	cred, err := getCredential(ctx, db, businessId)
	if err != nil {
		return e.finalizeFailed(ctx, db, &run, result, err)
	}
	if cred == nil {
		return e.finalizeFailed(ctx, db, &run, result, ErrTokenUnavailable)
	}

	if locationId == "" {
		locationId = cred.LocationId
		run.LocationId = locationId
	}
	if locationId == "" {
		return e.finalizeFailed(ctx, db, &run, result, ErrLocationUnselected)
	}

	// Token acquisition happens before any order API call; a dead credential
	// fails the run without touching the provider.
	accessToken, err := e.getValidAccessToken(ctx, db, cred)
	if err != nil {
		return e.finalizeFailed(ctx, db, &run, result, err)
	}

	touchedDates := map[time.Time]bool{}
	cursor := ""
	firstPage := true

	for {
		if !firstPage {
			e.sleep(e.pageDelay)
		}
		firstPage = false

		page, err := e.client.searchOrders(ctx, accessToken, locationId, from, to, cursor)
		if err != nil {
			// Counts so far are preserved; the failed run tells the operator
			// exactly how far the import got.
			return e.finalizeFailed(ctx, db, &run, result, err)
		}

		e.importPage(ctx, db, &run, businessId, page.Orders, &result, touchedDates)

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	e.recalcSummaries(ctx, db, businessId, locationId, touchedDates)

	result.Success = true
	completedAt := time.Now()
	if err := db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":          models.SyncRunStatusCompleted,
		"location_id":     run.LocationId,
		"total_orders":    result.OrdersProcessed + result.OrdersSkipped + result.OrdersFailed,
		"imported_orders": result.OrdersProcessed,
		"skipped_orders":  result.OrdersSkipped,
		"failed_orders":   result.OrdersFailed,
		"revenue_total":   result.RevenueTotal,
		"completed_at":    completedAt,
	}).Error; err != nil {
		config.LogError(logger, "worker.go", "SyncSales", "finalize run", nil, err)
	}

	logger.WithFields(logrus.Fields{
		"field":       "SyncSales",
		"business_id": businessId,
		"run_id":      run.ID,
		"imported":    result.OrdersProcessed,
		"skipped":     result.OrdersSkipped,
		"failed":      result.OrdersFailed,
	}).Info("sync run completed")

	return result
}

// importPage normalizes and persists one page of orders. The whole page is
// inserted in one create; on a duplicate-key collision it falls back to
// per-row inserts so the unique index decides idempotency, not this code.
func (e *Engine) importPage(ctx context.Context, db *gorm.DB, run *models.PosSyncRun, businessId string, orders []squareOrder, result *SyncResult, touchedDates map[time.Time]bool) {
	logger := config.GetLogger()

	var batch []models.PosSale
	for _, order := range orders {
		sale, err := normalizeOrder(businessId, order)
		if err != nil {
			result.OrdersFailed++
			e.recordOrderError(ctx, db, run.ID, businessId, order, "invalid_order", err.Error())
			continue
		}

		var count int64
		if err := db.WithContext(ctx).Model(&models.PosSale{}).
			Where("business_id = ? AND provider = ? AND external_id = ?",
				businessId, models.IntegrationProviderSquare, sale.ExternalId).
			Count(&count).Error; err != nil {
			result.OrdersFailed++
			e.recordOrderError(ctx, db, run.ID, businessId, order, "lookup_failed", err.Error())
			continue
		}
		if count > 0 {
			result.OrdersSkipped++
			continue
		}

		sale.SyncRunId = run.ID
		batch = append(batch, sale)
	}

	if len(batch) == 0 {
		return
	}

	if err := db.WithContext(ctx).Create(&batch).Error; err == nil {
		for _, sale := range batch {
			result.OrdersProcessed++
			result.RevenueTotal = result.RevenueTotal.Add(sale.NetRevenue)
			touchedDates[utils.TruncateToDate(sale.SaleDate)] = true
		}
		return
	} else if !isDuplicateKeyErr(err) {
		config.LogError(logger, "worker.go", "importPage", "batch insert", nil, err)
	}

	// A concurrent run got some of these rows in first. Retry individually so
	// the winners are counted as skips, not failures.
	for i := range batch {
		sale := batch[i]
		sale.ID = 0
		for j := range sale.Lines {
			sale.Lines[j].ID = 0
			sale.Lines[j].PosSaleId = 0
		}
		err := db.WithContext(ctx).Create(&sale).Error
		switch {
		case err == nil:
			result.OrdersProcessed++
			result.RevenueTotal = result.RevenueTotal.Add(sale.NetRevenue)
			touchedDates[utils.TruncateToDate(sale.SaleDate)] = true
		case isDuplicateKeyErr(err):
			result.OrdersSkipped++
		default:
			result.OrdersFailed++
			_ = db.WithContext(ctx).Create(&models.PosSyncOrderError{
				SyncRunId:  run.ID,
				BusinessId: businessId,
				ExternalId: sale.ExternalId,
				ErrorCode:  "persist_failed",
				Message:    err.Error(),
			}).Error
		}
	}
}

func (e *Engine) recalcSummaries(ctx context.Context, db *gorm.DB, businessId string, locationId string, touchedDates map[time.Time]bool) {
	logger := config.GetLogger()
	for day := range touchedDates {
		if err := models.RecalculateSalesDailySummary(ctx, db, businessId, locationId, day); err != nil {
			// Summaries are derived data; a failed recalc never fails the run.
			config.LogError(logger, "worker.go", "recalcSummaries", day.Format("2006-01-02"), nil, err)
		}
	}
}

func (e *Engine) recordOrderError(ctx context.Context, db *gorm.DB, runId uint, businessId string, order squareOrder, code string, message string) {
	payload, _ := utils.MarshalToJSON(order)
	if err := db.WithContext(ctx).Create(&models.PosSyncOrderError{
		SyncRunId:   runId,
		BusinessId:  businessId,
		ExternalId:  order.ID,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: []byte(payload),
	}).Error; err != nil {
		config.LogError(config.GetLogger(), "worker.go", "recordOrderError", code, nil, err)
	}
}

func (e *Engine) finalizeFailed(ctx context.Context, db *gorm.DB, run *models.PosSyncRun, result SyncResult, cause error) SyncResult {
	logger := config.GetLogger()

	result.Success = false
	result.Error = cause.Error()
	result.ErrorClass = Classify(cause)

	completedAt := time.Now()
	if err := db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":          models.SyncRunStatusFailed,
		"location_id":     run.LocationId,
		"total_orders":    result.OrdersProcessed + result.OrdersSkipped + result.OrdersFailed,
		"imported_orders": result.OrdersProcessed,
		"skipped_orders":  result.OrdersSkipped,
		"failed_orders":   result.OrdersFailed,
		"revenue_total":   result.RevenueTotal,
		"error_message":   result.Error,
		"completed_at":    completedAt,
	}).Error; err != nil {
		config.LogError(logger, "worker.go", "finalizeFailed", "update run", nil, err)
	}

	logger.WithFields(logrus.Fields{
		"field":       "SyncSales",
		"business_id": run.BusinessId,
		"run_id":      run.ID,
		"error_class": string(result.ErrorClass),
	}).Warn("sync run failed: " + result.Error)

	return result
}

// SyncSingleOrder imports one order by id, typically on a webhook event. A
// completed order is folded through the normal sync path over its close date
// so idempotency, summaries and run accounting behave identically; anything
// not yet completed is a successful no-op.
func (e *Engine) SyncSingleOrder(ctx context.Context, db *gorm.DB, businessId string, orderId string) SyncResult {
	result := SyncResult{RevenueTotal: decimal.Zero}

	cred, err := getCredential(ctx, db, businessId)
	if err != nil {
		result.Error = err.Error()
		result.ErrorClass = ClassUnknown
		return result
	}
	if cred == nil {
		result.Error = ErrTokenUnavailable.Error()
		result.ErrorClass = ClassTokenUnavailable
		return result
	}

	accessToken, err := e.getValidAccessToken(ctx, db, cred)
	if err != nil {
		result.Error = err.Error()
		result.ErrorClass = Classify(err)
		return result
	}

	order, err := e.client.retrieveOrder(ctx, accessToken, orderId)
	if err != nil {
		result.Error = err.Error()
		result.ErrorClass = Classify(err)
		return result
	}

	if !strings.EqualFold(order.State, "COMPLETED") {
		result.Success = true
		return result
	}

	closedAt := parseOrderTime(order.ClosedAt)
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	from := utils.TruncateToDate(closedAt)
	to := from.Add(24 * time.Hour)
	return e.SyncSales(ctx, db, businessId, order.LocationId, &from, &to, models.SyncTriggeredWebhook)
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
