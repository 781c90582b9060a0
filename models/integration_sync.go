package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	IntegrationProviderSquare = "square"
)

// Connection lifecycle for a POS credential. A credential moves pending ->
// connected once a location is selected, and connected -> error on an
// irrecoverable refresh failure. Recovery from error requires a fresh OAuth
// authorization, never a retry.
const (
	CredentialStatusPending   = "pending"
	CredentialStatusConnected = "connected"
	CredentialStatusError     = "error"
)

const (
	SyncRunStatusProcessing = "processing"
	SyncRunStatusCompleted  = "completed"
	SyncRunStatusFailed     = "failed"
)

const (
	SyncTriggeredManual  = "manual"
	SyncTriggeredWebhook = "webhook"
	SyncTriggeredSystem  = "system"
)

// PosCredential holds the OAuth token pair for one business+provider,
// encrypted at rest by the vault. Token columns store the vault payload
// encoding (iv:ciphertext:tag, hex). Mutated only by the token lifecycle
// manager; destroyed when the tenant disconnects the integration.
type PosCredential struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	BusinessId      string     `gorm:"uniqueIndex:idx_pos_credential,priority:1;not null" json:"business_id"`
	Provider        string     `gorm:"uniqueIndex:idx_pos_credential,priority:2;size:50;not null" json:"provider"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	AccessTokenEnc  string     `gorm:"type:text" json:"-"`
	RefreshTokenEnc string     `gorm:"type:text" json:"-"`
	TokenExpiresAt  *time.Time `json:"token_expires_at"`
	MerchantId      string     `gorm:"size:100" json:"merchant_id"`
	LocationId      string     `gorm:"size:100" json:"location_id"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PosSyncRun records one bounded sync execution. Created in processing state
// before any external call and finalized exactly once; a run stuck in
// processing is abandoned and gets swept by the watchdog.
type PosSyncRun struct {
	ID             uint            `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	Provider       string          `gorm:"index;size:50;not null" json:"provider"`
	LocationId     string          `gorm:"size:100" json:"location_id"`
	Status         string          `gorm:"size:20;not null" json:"status"`
	TriggeredBy    string          `gorm:"size:20" json:"triggered_by"`
	DateFrom       time.Time       `json:"date_from"`
	DateTo         time.Time       `json:"date_to"`
	TotalOrders    int             `json:"total_orders"`
	ImportedOrders int             `json:"imported_orders"`
	SkippedOrders  int             `json:"skipped_orders"`
	FailedOrders   int             `json:"failed_orders"`
	RevenueTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"revenue_total"`
	ErrorMessage   string          `gorm:"type:text" json:"error_message"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PosSale is one imported order, normalized. The unique index on
// (business_id, provider, external_id) is the idempotency key: the in-process
// existence check is only an optimization, this constraint is the safety net.
type PosSale struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"uniqueIndex:idx_pos_sale_external,priority:1;not null" json:"business_id"`
	Provider      string          `gorm:"uniqueIndex:idx_pos_sale_external,priority:2;size:50;not null" json:"provider"`
	ExternalId    string          `gorm:"uniqueIndex:idx_pos_sale_external,priority:3;size:128;not null" json:"external_id"`
	SyncRunId     uint            `gorm:"index" json:"sync_run_id"`
	LocationId    string          `gorm:"size:100" json:"location_id"`
	SaleDate      time.Time       `gorm:"index" json:"sale_date"`
	GrossRevenue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_revenue"`
	DiscountTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	NetRevenue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_revenue"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaymentMethod string          `gorm:"size:20" json:"payment_method"`
	Status        string          `gorm:"size:20" json:"status"`
	Lines         []PosSaleLine   `gorm:"foreignKey:PosSaleId;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// PosSaleLine is fully owned by its parent sale: created alongside it, never
// updated independently, removed only by cascade.
type PosSaleLine struct {
	ID         uint            `gorm:"primary_key" json:"id"`
	PosSaleId  uint            `gorm:"index;not null" json:"pos_sale_id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:255" json:"name"`
	CategoryId *uint           `json:"category_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	LineTotal  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
}

// PosSyncOrderError is a per-order failure row. One malformed order is
// recorded here and counted, without aborting its page or run.
type PosSyncOrderError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
