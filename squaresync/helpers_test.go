package squaresync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/vault"
)

const testVaultKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func decodeJSONBody(t *testing.T, r *http.Request, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.PosCredential{}, &models.PosSyncRun{}, &models.PosSale{},
		&models.PosSaleLine{}, &models.PosSyncOrderError{}, &models.SalesDailySummary{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func newTestEngine(t *testing.T, baseURL string) *Engine {
	t.Helper()
	client, _ := newTestClient(baseURL)
	return &Engine{
		vault:     newTestVault(t),
		client:    client,
		pageDelay: time.Millisecond,
		sleep:     func(time.Duration) {},
	}
}

func seedCredential(t *testing.T, db *gorm.DB, e *Engine, businessId string, locationId string, expiresAt time.Time) *models.PosCredential {
	t.Helper()
	accessEnc, err := e.vault.EncryptToString("access-token")
	if err != nil {
		t.Fatal(err)
	}
	refreshEnc, err := e.vault.EncryptToString("refresh-token")
	if err != nil {
		t.Fatal(err)
	}
	cred := &models.PosCredential{
		BusinessId:      businessId,
		Provider:        models.IntegrationProviderSquare,
		Status:          models.CredentialStatusConnected,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  &expiresAt,
		MerchantId:      "merchant-1",
		LocationId:      locationId,
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatal(err)
	}
	return cred
}

// orderJSON builds one provider order document for fake server pages.
func orderJSON(id string, totalCents int64, discountCents int64, closedAt string, tenders ...string) map[string]interface{} {
	tenderList := make([]map[string]interface{}, 0, len(tenders))
	for i, typ := range tenders {
		tenderList = append(tenderList, map[string]interface{}{
			"id":   fmt.Sprintf("%s-tender-%d", id, i),
			"type": typ,
		})
	}
	return map[string]interface{}{
		"id":                   id,
		"location_id":          "LOC1",
		"state":                "COMPLETED",
		"closed_at":            closedAt,
		"total_money":          map[string]interface{}{"amount": totalCents, "currency": "USD"},
		"total_discount_money": map[string]interface{}{"amount": discountCents, "currency": "USD"},
		"total_tax_money":      map[string]interface{}{"amount": int64(0), "currency": "USD"},
		"tenders":              tenderList,
	}
}

func writeOrdersPage(w http.ResponseWriter, cursor string, orders ...map[string]interface{}) {
	if orders == nil {
		orders = []map[string]interface{}{}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"orders": orders,
		"cursor": cursor,
	})
}
