package squaresync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string) (*posClient, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	return &posClient{
		baseURL:      baseURL,
		clientID:     "client-id",
		clientSecret: "client-secret",
		http:         &http.Client{Timeout: 5 * time.Second},
		sleep:        func(d time.Duration) { *sleeps = append(*sleeps, d) },
	}, sleeps
}

func TestDoJSON_RetriesRateLimitWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"errors":[{"code":"RATE_LIMITED","detail":"slow down"}]}`))
			return
		}
		w.Write([]byte(`{"order":{"id":"order-1","state":"COMPLETED","total_money":{"amount":100}}}`))
	}))
	defer srv.Close()

	client, sleeps := newTestClient(srv.URL)
	order, err := client.retrieveOrder(context.Background(), "token", "order-1")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if order.ID != "order-1" {
		t.Errorf("order id = %q", order.ID)
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Errorf("got %d calls, want 4", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("got %d sleeps %v, want %v", len(*sleeps), *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], d)
		}
	}
}

func TestDoJSON_ExhaustedRetriesReturnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"code":"RATE_LIMITED","detail":"slow down"}]}`))
	}))
	defer srv.Close()

	client, sleeps := newTestClient(srv.URL)
	_, err := client.retrieveOrder(context.Background(), "token", "order-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != ClassRateLimit {
		t.Errorf("class = %s, want RATE_LIMIT", Classify(err))
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Errorf("got %d calls, want 4 (1 + 3 retries)", calls)
	}
	if len(*sleeps) != 3 {
		t.Errorf("got %d sleeps, want 3", len(*sleeps))
	}
}

func TestDoJSON_AuthFailureNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED","detail":"token expired"}]}`))
	}))
	defer srv.Close()

	client, sleeps := newTestClient(srv.URL)
	_, err := client.retrieveOrder(context.Background(), "token", "order-1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if apiErr.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q", apiErr.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("auth failure slept %v", *sleeps)
	}
}

func TestSearchOrders_CursorAndFilters(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Errorf("authorization = %q", auth)
		}
		decodeJSONBody(t, r, &gotBody)
		w.Write([]byte(`{"orders":[],"cursor":""}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	from := time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	if _, err := client.searchOrders(context.Background(), "token", "LOC1", from, to, "next-page"); err != nil {
		t.Fatal(err)
	}

	if gotBody["cursor"] != "next-page" {
		t.Errorf("cursor = %v", gotBody["cursor"])
	}
	locations, _ := gotBody["location_ids"].([]interface{})
	if len(locations) != 1 || locations[0] != "LOC1" {
		t.Errorf("location_ids = %v", gotBody["location_ids"])
	}
	query, _ := gotBody["query"].(map[string]interface{})
	if query == nil {
		t.Fatal("query missing")
	}
	sort, _ := query["sort"].(map[string]interface{})
	if sort["sort_field"] != "CLOSED_AT" || sort["sort_order"] != "ASC" {
		t.Errorf("sort = %v", sort)
	}
}
