package config

import (
	"os"
	"strings"
)

// SquareSyncInline makes the sync trigger endpoint run the sales sync in-request
// instead of dispatching a Pub/Sub message. Intended for local development and
// single-instance deployments without Pub/Sub.
//
// Set via env:
// - SQUARE_SYNC_INLINE=true
func SquareSyncInline() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SQUARE_SYNC_INLINE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SquareWebhookEnabled gates the order.updated webhook entry point.
//
// Set via env:
// - ENABLE_SQUARE_WEBHOOK=false to disable (enabled by default)
func SquareWebhookEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_SQUARE_WEBHOOK")))
	if v == "" {
		return true
	}
	return v != "0" && v != "false" && v != "no" && v != "n"
}
