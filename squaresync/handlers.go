package squaresync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

const oauthStateTTL = 15 * time.Minute

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		cred, err := getCredential(ctx, db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cred == nil {
			c.JSON(http.StatusOK, StatusResponse{Status: "disconnected"})
			return
		}

		c.JSON(http.StatusOK, StatusResponse{
			Status:          cred.Status,
			MerchantId:      cred.MerchantId,
			LocationId:      cred.LocationId,
			TokenExpiresAt:  formatTime(cred.TokenExpiresAt),
			LastConnectedAt: formatTime(cred.LastConnectedAt),
			LastError:       cred.LastError,
		})
	}
}

// ConnectURLHandler starts the OAuth flow. The state nonce is stored in redis
// keyed back to the business so the callback can reject forged or replayed
// states without a session.
func ConnectURLHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		state := uuid.New().String()
		if err := config.SetRedisValue("SquareOAuthState:"+state, businessId, oauthStateTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"url": engine.client.authorizeURL(state)})
	}
}

// OAuthCallbackHandler exchanges the authorization code and stores the token
// pair encrypted. A first-time connection lands in pending until a location
// is selected; a reconnect that already has a location goes straight back to
// connected.
func OAuthCallbackHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.Query("code"))
		state := strings.TrimSpace(c.Query("state"))
		if code == "" || state == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
			return
		}

		businessId, found, err := config.GetRedisValue("SquareOAuthState:" + state)
		if err != nil || !found || businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
			return
		}
		_ = config.RemoveRedisKey("SquareOAuthState:" + state)

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		tokens, err := engine.client.exchangeAuthCode(ctx, code)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		accessEnc, err := engine.vault.EncryptToString(tokens.AccessToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		refreshEnc, err := engine.vault.EncryptToString(tokens.RefreshToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var expiresAt *time.Time
		if t, err := time.Parse(time.RFC3339, tokens.ExpiresAt); err == nil {
			expiresAt = &t
		}

		cred, err := getCredential(ctx, db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		if cred == nil {
			cred = &models.PosCredential{
				BusinessId:      businessId,
				Provider:        models.IntegrationProviderSquare,
				Status:          models.CredentialStatusPending,
				AccessTokenEnc:  accessEnc,
				RefreshTokenEnc: refreshEnc,
				TokenExpiresAt:  expiresAt,
				MerchantId:      tokens.MerchantId,
				LastConnectedAt: &now,
			}
			if err := db.Create(cred).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			status := models.CredentialStatusPending
			if cred.LocationId != "" {
				status = models.CredentialStatusConnected
			}
			if err := db.Model(cred).Updates(map[string]interface{}{
				"status":            status,
				"access_token_enc":  accessEnc,
				"refresh_token_enc": refreshEnc,
				"token_expires_at":  expiresAt,
				"merchant_id":       tokens.MerchantId,
				"last_error":        "",
				"last_connected_at": now,
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "status": cred.Status})
	}
}

func LocationsHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		cred, err := getCredential(ctx, db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cred == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "square is not connected"})
			return
		}

		accessToken, err := engine.getValidAccessToken(ctx, db, cred)
		if err != nil {
			c.JSON(statusForClass(Classify(err)), gin.H{"error": err.Error()})
			return
		}

		locations, err := engine.client.listLocations(ctx, accessToken)
		if err != nil {
			c.JSON(statusForClass(Classify(err)), gin.H{"error": err.Error()})
			return
		}

		items := make([]LocationResponse, 0, len(locations))
		for _, loc := range locations {
			items = append(items, LocationResponse{
				ID:       loc.ID,
				Name:     loc.Name,
				Status:   loc.Status,
				Timezone: loc.Timezone,
			})
		}
		c.JSON(http.StatusOK, gin.H{"locations": items})
	}
}

// SelectLocationHandler pins the location to sync and completes the
// connection. The id is checked against the provider's location list so a
// typo cannot silently produce empty syncs forever.
func SelectLocationHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req SelectLocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "locationId is required"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		cred, err := getCredential(ctx, db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cred == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "square is not connected"})
			return
		}

		accessToken, err := engine.getValidAccessToken(ctx, db, cred)
		if err != nil {
			c.JSON(statusForClass(Classify(err)), gin.H{"error": err.Error()})
			return
		}

		locations, err := engine.client.listLocations(ctx, accessToken)
		if err != nil {
			c.JSON(statusForClass(Classify(err)), gin.H{"error": err.Error()})
			return
		}
		valid := false
		for _, loc := range locations {
			if loc.ID == req.LocationId {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown location"})
			return
		}

		now := time.Now()
		if err := db.Model(cred).Updates(map[string]interface{}{
			"location_id":       req.LocationId,
			"status":            models.CredentialStatusConnected,
			"last_error":        "",
			"last_connected_at": now,
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// DisconnectHandler destroys the stored credential outright. Encrypted or
// not, a token pair for a disconnected integration has no reason to exist.
func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		if err := db.Where("business_id = ? AND provider = ?", businessId, models.IntegrationProviderSquare).
			Delete(&models.PosCredential{}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TriggerSyncHandler starts a sales sync. By default the request is queued
// and executed by the push worker; SQUARE_SYNC_INLINE runs it in-request for
// single-instance deployments without pubsub.
func TriggerSyncHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		var dateFrom, dateTo *time.Time
		if strings.TrimSpace(req.DateFrom) != "" {
			t, err := utils.ParseISODate(req.DateFrom)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dateFrom must be YYYY-MM-DD"})
				return
			}
			dateFrom = &t
		}
		if strings.TrimSpace(req.DateTo) != "" {
			t, err := utils.ParseISODate(req.DateTo)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dateTo must be YYYY-MM-DD"})
				return
			}
			end := t.Add(24 * time.Hour)
			dateTo = &end
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		cred, err := getCredential(ctx, db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cred == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "square is not connected"})
			return
		}

		if config.SquareSyncInline() {
			result := engine.SyncSales(ctx, db, businessId, "", dateFrom, dateTo, models.SyncTriggeredManual)
			c.JSON(http.StatusOK, result)
			return
		}

		payload := SyncPubSubPayload{
			BusinessId: businessId,
			Trigger:    models.SyncTriggeredManual,
		}
		if dateFrom != nil {
			payload.DateFrom = dateFrom.UTC().Format(time.RFC3339)
		}
		if dateTo != nil {
			payload.DateTo = dateTo.UTC().Format(time.RFC3339)
		}
		if err := PublishSyncRequest(c.Request.Context(), payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.PosSyncRun
		if err := db.Where("business_id = ? AND provider = ?", businessId, models.IntegrationProviderSquare).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)

		var run models.PosSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.PosSyncOrderError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapOrderErrors(errs),
		})
	}
}

// WebhookHandler ingests order event notifications from the provider. The
// tenant is resolved from the merchant id on the event, so this endpoint sits
// outside the session middleware. Responses are always 200 for processable
// shapes: the provider retries on non-2xx and a failed import is already
// recorded on a run row.
func WebhookHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.SquareWebhookEnabled() {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		if key := strings.TrimSpace(os.Getenv("SQUARE_WEBHOOK_SIGNATURE_KEY")); key != "" {
			if !verifyWebhookSignature(c, key, body) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
				return
			}
		}

		var event WebhookEnvelope
		if err := json.Unmarshal(body, &event); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if event.Type != "order.updated" || event.Data.Object.OrderUpdated.OrderId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		businessId, err := businessForMerchant(c.Request.Context(), event.MerchantId)
		if err != nil || businessId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		db := config.GetDB().WithContext(ctx)
		result := engine.SyncSingleOrder(ctx, db, businessId, event.Data.Object.OrderUpdated.OrderId)
		c.JSON(http.StatusOK, result)
	}
}

// verifyWebhookSignature checks the provider HMAC: SHA-256 over the exact
// notification URL concatenated with the raw body, base64 encoded.
func verifyWebhookSignature(c *gin.Context, key string, body []byte) bool {
	signature := c.GetHeader("x-square-hmacsha256-signature")
	if signature == "" {
		return false
	}

	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	notificationURL := scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// businessForMerchant maps a provider merchant id back to a tenant. The
// lookup crosses tenant boundaries on purpose, so it bypasses the tenant
// guard explicitly.
func businessForMerchant(ctx context.Context, merchantId string) (string, error) {
	if strings.TrimSpace(merchantId) == "" {
		return "", errors.New("merchant_id missing")
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var cred models.PosCredential
	err := config.GetDB().WithContext(ctx).
		Where("merchant_id = ? AND provider = ?", merchantId, models.IntegrationProviderSquare).
		Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return cred.BusinessId, nil
}

func statusForClass(class ErrorClass) int {
	switch class {
	case ClassAuth, ClassTokenUnavailable:
		return http.StatusUnauthorized
	case ClassRateLimit:
		return http.StatusTooManyRequests
	case ClassNotFound:
		return http.StatusNotFound
	case ClassValidation, ClassLocationUnselected:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func resolveBusinessID(c *gin.Context) (string, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", errors.New("unauthorized")
	}

	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return "", err
	}
	if !exists {
		db := config.GetDB()
		if db == nil {
			return "", errors.New("db is nil")
		}
		if err := db.WithContext(c.Request.Context()).
			Model(&models.User{}).
			Where("username = ?", username).
			Take(&user).Error; err != nil {
			return "", errors.New("unauthorized")
		}
	}

	businessId := strings.TrimSpace(user.BusinessId)
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	return businessId, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.PosSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:             run.ID,
		Status:         run.Status,
		LocationId:     run.LocationId,
		DateFrom:       run.DateFrom.UTC().Format(time.RFC3339),
		DateTo:         run.DateTo.UTC().Format(time.RFC3339),
		TotalOrders:    run.TotalOrders,
		ImportedOrders: run.ImportedOrders,
		SkippedOrders:  run.SkippedOrders,
		FailedOrders:   run.FailedOrders,
		RevenueTotal:   run.RevenueTotal.StringFixed(2),
		TriggeredBy:    run.TriggeredBy,
		ErrorMessage:   run.ErrorMessage,
		CompletedAt:    formatTime(run.CompletedAt),
	}
}

func mapOrderErrors(errorsList []models.PosSyncOrderError) []SyncOrderErrorResponse {
	out := make([]SyncOrderErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncOrderErrorResponse{
			ID:         errItem.ID,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
		})
	}
	return out
}
