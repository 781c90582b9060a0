package squaresync

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNormalizeOrder_MinorUnits(t *testing.T) {
	order := squareOrder{
		ID:                 "order-1",
		LocationId:         "LOC1",
		State:              "COMPLETED",
		ClosedAt:           "2026-08-20T14:30:00Z",
		TotalMoney:         squareMoney{Amount: int64Ptr(1050), Currency: "USD"},
		TotalDiscountMoney: squareMoney{Amount: int64Ptr(50), Currency: "USD"},
		TotalTaxMoney:      squareMoney{Amount: int64Ptr(95), Currency: "USD"},
	}

	sale, err := normalizeOrder("biz-1", order)
	if err != nil {
		t.Fatal(err)
	}

	if !sale.GrossRevenue.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("gross = %s, want 10.50", sale.GrossRevenue)
	}
	if !sale.DiscountTotal.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("discount = %s, want 0.50", sale.DiscountTotal)
	}
	if !sale.NetRevenue.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("net = %s, want 10.00", sale.NetRevenue)
	}
	if !sale.TaxAmount.Equal(decimal.RequireFromString("0.95")) {
		t.Errorf("tax = %s, want 0.95", sale.TaxAmount)
	}
	if got := sale.SaleDate.Format("2006-01-02"); got != "2026-08-20" {
		t.Errorf("sale date = %s, want 2026-08-20", got)
	}
}

func TestNormalizeOrder_MissingTotalFails(t *testing.T) {
	order := squareOrder{
		ID:       "order-2",
		ClosedAt: "2026-08-20T14:30:00Z",
	}
	if _, err := normalizeOrder("biz-1", order); !errors.Is(err, errOrderMissingTotal) {
		t.Errorf("expected errOrderMissingTotal, got %v", err)
	}
}

func TestNormalizeOrder_MissingIDFails(t *testing.T) {
	order := squareOrder{
		TotalMoney: squareMoney{Amount: int64Ptr(100)},
		ClosedAt:   "2026-08-20T14:30:00Z",
	}
	if _, err := normalizeOrder("biz-1", order); err == nil {
		t.Error("expected error for missing order id")
	}
}

func TestNormalizeOrder_FallsBackToCreatedAt(t *testing.T) {
	order := squareOrder{
		ID:         "order-3",
		CreatedAt:  "2026-08-19T09:00:00Z",
		TotalMoney: squareMoney{Amount: int64Ptr(100)},
	}
	sale, err := normalizeOrder("biz-1", order)
	if err != nil {
		t.Fatal(err)
	}
	if got := sale.SaleDate.Format("2006-01-02"); got != "2026-08-19" {
		t.Errorf("sale date = %s, want 2026-08-19", got)
	}
}

func TestDerivePaymentMethod(t *testing.T) {
	cases := []struct {
		name    string
		tenders []squareTender
		want    string
	}{
		{"no tenders", nil, "card"},
		{"single cash", []squareTender{{Type: "CASH"}}, "cash"},
		{"single card", []squareTender{{Type: "CARD"}}, "card"},
		{"single wallet", []squareTender{{Type: "WALLET"}}, "card"},
		{"split payment", []squareTender{{Type: "CASH"}, {Type: "CARD"}}, "mixed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := derivePaymentMethod(tc.tenders); got != tc.want {
				t.Errorf("derivePaymentMethod() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeOrder_Lines(t *testing.T) {
	order := squareOrder{
		ID:         "order-4",
		ClosedAt:   "2026-08-20T10:00:00Z",
		TotalMoney: squareMoney{Amount: int64Ptr(700)},
		LineItems: []squareLineItem{
			{
				Name:           "Latte",
				Quantity:       "2",
				BasePriceMoney: squareMoney{Amount: int64Ptr(350)},
				TotalMoney:     squareMoney{Amount: int64Ptr(700)},
			},
			{
				// Missing name and junk quantity still produce a line.
				Quantity:   "not-a-number",
				TotalMoney: squareMoney{Amount: int64Ptr(0)},
			},
		},
	}

	sale, err := normalizeOrder("biz-1", order)
	if err != nil {
		t.Fatal(err)
	}
	if len(sale.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(sale.Lines))
	}
	if !sale.Lines[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("quantity = %s, want 2", sale.Lines[0].Quantity)
	}
	if !sale.Lines[0].UnitPrice.Equal(decimal.RequireFromString("3.50")) {
		t.Errorf("unit price = %s, want 3.50", sale.Lines[0].UnitPrice)
	}
	if sale.Lines[1].Name != "Unnamed item" {
		t.Errorf("name = %q, want fallback", sale.Lines[1].Name)
	}
	if !sale.Lines[1].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("junk quantity should default to 1, got %s", sale.Lines[1].Quantity)
	}
}
