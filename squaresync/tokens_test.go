package squaresync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/opsboard_backend/models"
)

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry recorded", nil, true},
		{"expires in 3 days", timePtr(now.Add(3 * 24 * time.Hour)), true},
		{"expires in 30 days", timePtr(now.Add(30 * 24 * time.Hour)), false},
		{"exactly at horizon minus a minute", timePtr(now.Add(tokenRefreshHorizon - time.Minute)), true},
		{"already expired", timePtr(now.Add(-time.Hour)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := needsRefresh(tc.expiresAt, now); got != tc.want {
				t.Errorf("needsRefresh() = %v, want %v", got, tc.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestGetValidAccessToken_NoRefreshWhenFresh(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			tokenCalls++
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	engine := newTestEngine(t, srv.URL)
	cred := seedCredential(t, db, engine, "biz-1", "LOC1", time.Now().Add(30*24*time.Hour))

	token, err := engine.getValidAccessToken(context.Background(), db, cred)
	if err != nil {
		t.Fatal(err)
	}
	if token != "access-token" {
		t.Errorf("token = %q", token)
	}
	if tokenCalls != 0 {
		t.Errorf("refresh endpoint called %d times for a fresh token", tokenCalls)
	}
}

func TestGetValidAccessToken_RefreshesNearExpiry(t *testing.T) {
	newExpiry := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		decodeJSONBody(t, r, &body)
		if body["grant_type"] != "refresh_token" || body["refresh_token"] != "refresh-token" {
			t.Errorf("unexpected token request: %v", body)
		}
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_at":"` +
			newExpiry.Format(time.RFC3339) + `","merchant_id":"merchant-1"}`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	engine := newTestEngine(t, srv.URL)
	cred := seedCredential(t, db, engine, "biz-1", "LOC1", time.Now().Add(3*24*time.Hour))

	token, err := engine.getValidAccessToken(context.Background(), db, cred)
	if err != nil {
		t.Fatal(err)
	}
	if token != "new-access" {
		t.Errorf("token = %q, want new-access", token)
	}

	var stored models.PosCredential
	if err := db.Where("id = ?", cred.ID).Take(&stored).Error; err != nil {
		t.Fatal(err)
	}
	access, err := engine.vault.DecryptFromString(stored.AccessTokenEnc)
	if err != nil || access != "new-access" {
		t.Errorf("stored access = %q (%v)", access, err)
	}
	refresh, err := engine.vault.DecryptFromString(stored.RefreshTokenEnc)
	if err != nil || refresh != "new-refresh" {
		t.Errorf("stored refresh = %q (%v)", refresh, err)
	}
	if stored.TokenExpiresAt == nil || !stored.TokenExpiresAt.UTC().Equal(newExpiry) {
		t.Errorf("stored expiry = %v, want %v", stored.TokenExpiresAt, newExpiry)
	}
	if stored.MerchantId != "merchant-1" {
		t.Errorf("merchant id lost: %q", stored.MerchantId)
	}
}

func TestGetValidAccessToken_UnparsableExpiryKeepsOldExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_at":"soon"}`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	engine := newTestEngine(t, srv.URL)
	oldExpiry := time.Now().Add(3 * 24 * time.Hour).UTC().Truncate(time.Second)
	cred := seedCredential(t, db, engine, "biz-1", "LOC1", oldExpiry)

	token, err := engine.getValidAccessToken(context.Background(), db, cred)
	if err != nil {
		t.Fatal(err)
	}
	if token != "new-access" {
		t.Errorf("token = %q, want new-access", token)
	}

	// The in-memory credential and the stored row must agree: both keep the
	// previous expiry when the response value cannot be parsed.
	if cred.TokenExpiresAt == nil || !cred.TokenExpiresAt.UTC().Equal(oldExpiry) {
		t.Errorf("in-memory expiry = %v, want %v", cred.TokenExpiresAt, oldExpiry)
	}
	var stored models.PosCredential
	if err := db.Where("id = ?", cred.ID).Take(&stored).Error; err != nil {
		t.Fatal(err)
	}
	if stored.TokenExpiresAt == nil || !stored.TokenExpiresAt.UTC().Equal(oldExpiry) {
		t.Errorf("stored expiry = %v, want %v", stored.TokenExpiresAt, oldExpiry)
	}
}

func TestGetValidAccessToken_RejectedRefreshMarksError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED","detail":"refresh token revoked"}]}`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	engine := newTestEngine(t, srv.URL)
	cred := seedCredential(t, db, engine, "biz-1", "LOC1", time.Now().Add(time.Hour))

	_, err := engine.getValidAccessToken(context.Background(), db, cred)
	if !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}

	var stored models.PosCredential
	if err := db.Where("id = ?", cred.ID).Take(&stored).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.CredentialStatusError {
		t.Errorf("status = %q, want error", stored.Status)
	}
	if stored.LastError == "" {
		t.Error("last_error not recorded")
	}

	// The poisoned credential keeps failing without further provider calls.
	if _, err := engine.getValidAccessToken(context.Background(), db, &stored); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("error-state credential should fail closed, got %v", err)
	}
}

func TestGetValidAccessToken_NilCredential(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(t, "http://invalid")
	if _, err := engine.getValidAccessToken(context.Background(), db, nil); !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("expected ErrTokenUnavailable, got %v", err)
	}
}
