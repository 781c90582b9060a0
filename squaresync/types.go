package squaresync

import (
	"github.com/shopspring/decimal"
)

// SyncResult summarizes one sync run for the caller.
type SyncResult struct {
	Success         bool            `json:"success"`
	OrdersProcessed int             `json:"ordersProcessed"`
	OrdersSkipped   int             `json:"ordersSkipped"`
	OrdersFailed    int             `json:"ordersFailed"`
	RevenueTotal    decimal.Decimal `json:"revenueTotal"`
	DateFrom        string          `json:"dateFrom"`
	DateTo          string          `json:"dateTo"`
	SyncRunId       uint            `json:"syncRunId,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorClass      ErrorClass      `json:"errorClass,omitempty"`
}

// --- provider wire types ---

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantId   string `json:"merchant_id"`
	TokenType    string `json:"token_type"`
}

type squareMoney struct {
	Amount   *int64 `json:"amount"`
	Currency string `json:"currency"`
}

type squareTender struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type squareLineItem struct {
	UID             string      `json:"uid"`
	Name            string      `json:"name"`
	CatalogObjectId string      `json:"catalog_object_id"`
	Quantity        string      `json:"quantity"`
	BasePriceMoney  squareMoney `json:"base_price_money"`
	TotalMoney      squareMoney `json:"total_money"`
}

type squareOrder struct {
	ID                 string           `json:"id"`
	LocationId         string           `json:"location_id"`
	State              string           `json:"state"`
	ClosedAt           string           `json:"closed_at"`
	CreatedAt          string           `json:"created_at"`
	TotalMoney         squareMoney      `json:"total_money"`
	TotalDiscountMoney squareMoney      `json:"total_discount_money"`
	TotalTaxMoney      squareMoney      `json:"total_tax_money"`
	Tenders            []squareTender   `json:"tenders"`
	LineItems          []squareLineItem `json:"line_items"`
}

type ordersPage struct {
	Orders []squareOrder `json:"orders"`
	Cursor string        `json:"cursor"`
}

type squareLocation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
}

// --- handler DTOs ---

type SelectLocationRequest struct {
	LocationId string `json:"locationId" binding:"required"`
}

type TriggerSyncRequest struct {
	DateFrom string `json:"dateFrom"`
	DateTo   string `json:"dateTo"`
}

type StatusResponse struct {
	Status          string  `json:"status"`
	MerchantId      string  `json:"merchantId"`
	LocationId      string  `json:"locationId"`
	TokenExpiresAt  *string `json:"tokenExpiresAt"`
	LastConnectedAt *string `json:"lastConnectedAt"`
	LastError       string  `json:"lastError,omitempty"`
}

type LocationResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Timezone string `json:"timezone"`
}

type SyncRunResponse struct {
	ID             uint    `json:"id"`
	Status         string  `json:"status"`
	LocationId     string  `json:"locationId"`
	DateFrom       string  `json:"dateFrom"`
	DateTo         string  `json:"dateTo"`
	TotalOrders    int     `json:"totalOrders"`
	ImportedOrders int     `json:"importedOrders"`
	SkippedOrders  int     `json:"skippedOrders"`
	FailedOrders   int     `json:"failedOrders"`
	RevenueTotal   string  `json:"revenueTotal"`
	TriggeredBy    string  `json:"triggeredBy"`
	ErrorMessage   string  `json:"errorMessage,omitempty"`
	CompletedAt    *string `json:"completedAt"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncOrderErrorResponse `json:"errors"`
}

type SyncOrderErrorResponse struct {
	ID         uint   `json:"id"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

// --- pubsub payloads ---

type SyncPubSubPayload struct {
	BusinessId string `json:"business_id"`
	LocationId string `json:"location_id"`
	DateFrom   string `json:"date_from"`
	DateTo     string `json:"date_to"`
	Trigger    string `json:"trigger"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// --- webhook payloads ---

type WebhookEnvelope struct {
	MerchantId string `json:"merchant_id"`
	Type       string `json:"type"`
	EventId    string `json:"event_id"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			OrderUpdated struct {
				OrderId    string `json:"order_id"`
				LocationId string `json:"location_id"`
				State      string `json:"state"`
			} `json:"order_updated"`
		} `json:"object"`
	} `json:"data"`
}
