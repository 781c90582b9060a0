package squaresync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
)

// tokenRefreshHorizon is how far ahead of expiry a token is refreshed. Square
// access tokens live 30 days; refreshing a week early means a tenant that only
// syncs weekly never hits an expired token mid-run.
const tokenRefreshHorizon = 7 * 24 * time.Hour

func needsRefresh(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return expiresAt.Sub(now) < tokenRefreshHorizon
}

// getValidAccessToken returns a decrypted access token ready for API use,
// refreshing the stored pair first when expiry is near. Callers never see a
// token that is within the refresh horizon.
func (e *Engine) getValidAccessToken(ctx context.Context, db *gorm.DB, cred *models.PosCredential) (string, error) {
	if cred == nil {
		return "", ErrTokenUnavailable
	}
	if cred.Status == models.CredentialStatusError {
		return "", fmt.Errorf("credential in error state: %s: %w", cred.LastError, ErrTokenUnavailable)
	}

	if needsRefresh(cred.TokenExpiresAt, time.Now()) {
		if err := e.refreshCredential(ctx, db, cred); err != nil {
			return "", err
		}
	}

	token, err := e.vault.DecryptFromString(cred.AccessTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %v: %w", err, ErrTokenUnavailable)
	}
	return token, nil
}

// refreshCredential exchanges the stored refresh token for a new pair and
// persists it. Concurrent refreshes for the same tenant are serialized with a
// best-effort redis lock; if two processes race anyway the loser simply
// overwrites with an equally valid pair.
func (e *Engine) refreshCredential(ctx context.Context, db *gorm.DB, cred *models.PosCredential) error {
	logger := config.GetLogger()

	if locker := config.GetRedisLock(); locker != nil {
		lockKey := fmt.Sprintf("lock:square-refresh:%s", cred.BusinessId)
		lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
		if err != nil && err != redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"field":       "refreshCredential",
				"business_id": cred.BusinessId,
			}).Warn("redis lock error; proceeding without lock")
		}
		if lock != nil {
			defer func() { _ = lock.Release(context.Background()) }()

			// Another process may have refreshed while we waited.
			var fresh models.PosCredential
			if err := db.WithContext(ctx).
				Where("id = ?", cred.ID).
				Take(&fresh).Error; err == nil {
				*cred = fresh
				if !needsRefresh(cred.TokenExpiresAt, time.Now()) {
					return nil
				}
			}
		}
	}

	refreshTok, err := e.vault.DecryptFromString(cred.RefreshTokenEnc)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %v: %w", err, ErrTokenUnavailable)
	}

	resp, err := e.client.refreshToken(ctx, refreshTok)
	if err != nil {
		if Classify(err) == ClassAuth {
			// Refresh token revoked or expired. The stored pair is dead;
			// mark the credential so the tenant is told to reconnect.
			now := time.Now()
			if updErr := db.WithContext(ctx).Model(&models.PosCredential{}).
				Where("id = ?", cred.ID).
				Updates(map[string]interface{}{
					"status":     models.CredentialStatusError,
					"last_error": err.Error(),
					"updated_at": now,
				}).Error; updErr != nil {
				config.LogError(logger, "tokens.go", "refreshCredential", "mark credential error", nil, updErr)
			}
			cred.Status = models.CredentialStatusError
			cred.LastError = err.Error()
			return fmt.Errorf("refresh rejected: %v: %w", err, ErrTokenUnavailable)
		}
		return err
	}

	accessEnc, err := e.vault.EncryptToString(resp.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := e.vault.EncryptToString(resp.RefreshToken)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"access_token_enc":  accessEnc,
		"refresh_token_enc": refreshEnc,
		"last_error":        "",
		"updated_at":        time.Now(),
	}
	expiresAt := cred.TokenExpiresAt
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		expiresAt = &t
		updates["token_expires_at"] = t
	} else {
		// Keep the previous expiry in memory and in the row; a refresh loop
		// over a nil expiry is worse than a slightly stale horizon.
		logger.WithFields(logrus.Fields{
			"field":       "refreshCredential",
			"business_id": cred.BusinessId,
			"expires_at":  resp.ExpiresAt,
		}).Warn("refresh response carried unparsable expires_at")
	}
	if err := db.WithContext(ctx).Model(&models.PosCredential{}).
		Where("id = ?", cred.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	cred.AccessTokenEnc = accessEnc
	cred.RefreshTokenEnc = refreshEnc
	cred.TokenExpiresAt = expiresAt
	cred.LastError = ""
	return nil
}

func getCredential(ctx context.Context, db *gorm.DB, businessId string) (*models.PosCredential, error) {
	var cred models.PosCredential
	err := db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, models.IntegrationProviderSquare).
		Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}
