package squaresync

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/opsboard_backend/config"
	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

func syncTopicName() string {
	topicName := strings.TrimSpace(os.Getenv("SQUARE_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "square-sync"
	}
	return topicName
}

// PublishSyncRequest queues a sync for asynchronous execution. The HTTP
// handler returns immediately; the push subscription delivers the payload to
// PubSubPushHandler on a worker instance.
func PublishSyncRequest(ctx context.Context, payload SyncPubSubPayload) error {
	topicName := syncTopicName()

	if utils.BoolFromEnv("SQUARE_SYNC_CREATE_TOPIC", false) {
		client, err := config.GetClient(ctx)
		if err != nil {
			return err
		}
		if _, err := config.CreateTopicIfNotExists(client, topicName); err != nil {
			return err
		}
	}

	_, err := config.PublishJSON(ctx, topicName, payload)
	return err
}

// PubSubPushHandler consumes push deliveries from the sync topic. Malformed
// envelopes are acked and dropped; redelivering garbage forever helps nobody.
// A failed sync is also acked: the run row already records the failure and a
// retry is a human decision, not a transport one.
func PubSubPushHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := utils.UnmarshalFromJSON(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := utils.UnmarshalFromJSON(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.BusinessId == "" {
			c.Status(204)
			return
		}

		runSyncFromPayload(c.Request.Context(), engine, payload)
		c.Status(204)
	}
}

func runSyncFromPayload(ctx context.Context, engine *Engine, payload SyncPubSubPayload) SyncResult {
	db := config.GetDB()

	var dateFrom, dateTo *time.Time
	if t, err := time.Parse(time.RFC3339, payload.DateFrom); err == nil {
		dateFrom = &t
	}
	if t, err := time.Parse(time.RFC3339, payload.DateTo); err == nil {
		dateTo = &t
	}

	trigger := payload.Trigger
	if trigger == "" {
		trigger = models.SyncTriggeredSystem
	}

	return engine.SyncSales(ctx, db, payload.BusinessId, payload.LocationId, dateFrom, dateTo, trigger)
}
