package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SalesDailySummary is a small, query-friendly aggregate table used by dashboards.
//
// Grain: (business_id, location_id, sale_date).
//
// NOTE: This table is derived data and can be rebuilt from pos_sales at any time.
type SalesDailySummary struct {
	BusinessId string    `gorm:"primaryKey;size:64" json:"business_id"`
	LocationId string    `gorm:"primaryKey;size:100" json:"location_id"`
	SaleDate   time.Time `gorm:"primaryKey" json:"sale_date"`

	OrdersCount   int             `gorm:"default:0" json:"orders_count"`
	GrossTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_total"`
	DiscountTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	NetTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_total"`
	TaxTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecalculateSalesDailySummary rebuilds the summary row for one business,
// location and date from the imported sales. Sums are computed in Go with
// decimals rather than SQL SUM so the math matches the import path exactly.
func RecalculateSalesDailySummary(ctx context.Context, db *gorm.DB, businessId string, locationId string, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var sales []PosSale
	if err := db.WithContext(ctx).
		Where("business_id = ? AND location_id = ? AND sale_date >= ? AND sale_date < ?",
			businessId, locationId, dayStart, dayEnd).
		Find(&sales).Error; err != nil {
		return err
	}

	summary := SalesDailySummary{
		BusinessId: businessId,
		LocationId: locationId,
		SaleDate:   dayStart,
	}
	for _, sale := range sales {
		summary.OrdersCount++
		summary.GrossTotal = summary.GrossTotal.Add(sale.GrossRevenue)
		summary.DiscountTotal = summary.DiscountTotal.Add(sale.DiscountTotal)
		summary.NetTotal = summary.NetTotal.Add(sale.NetRevenue)
		summary.TaxTotal = summary.TaxTotal.Add(sale.TaxAmount)
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "business_id"}, {Name: "location_id"}, {Name: "sale_date"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"orders_count", "gross_total", "discount_total", "net_total", "tax_total", "updated_at",
			}),
		}).
		Create(&summary).Error
}
