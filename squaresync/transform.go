package squaresync

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/opsboard_backend/models"
	"bitbucket.org/mmdatafocus/opsboard_backend/utils"
)

var errOrderMissingTotal = errors.New("order total missing")

// fromMinorUnits converts provider money (integer minor units) into a decimal
// major amount. 1050 becomes 10.50 exactly; no float ever touches the value.
func fromMinorUnits(m squareMoney) decimal.Decimal {
	if m.Amount == nil {
		return decimal.Zero
	}
	return decimal.New(*m.Amount, -2)
}

// derivePaymentMethod collapses the tender list into a coarse method label.
// One cash tender is cash, one of anything else is card, several tenders on
// one order is a split payment.
func derivePaymentMethod(tenders []squareTender) string {
	switch len(tenders) {
	case 0:
		return "card"
	case 1:
		if strings.EqualFold(tenders[0].Type, "CASH") {
			return "cash"
		}
		return "card"
	default:
		return "mixed"
	}
}

// normalizeOrder maps one provider order into the local sale shape. A
// malformed order comes back as an error for the per-order failure row; it
// never panics and never poisons the rest of its page.
func normalizeOrder(businessId string, order squareOrder) (models.PosSale, error) {
	if strings.TrimSpace(order.ID) == "" {
		return models.PosSale{}, errors.New("order id missing")
	}
	if order.TotalMoney.Amount == nil {
		return models.PosSale{}, errOrderMissingTotal
	}

	saleDate := parseOrderTime(order.ClosedAt)
	if saleDate.IsZero() {
		saleDate = parseOrderTime(order.CreatedAt)
	}
	if saleDate.IsZero() {
		return models.PosSale{}, errors.New("order has no usable timestamp")
	}

	gross := fromMinorUnits(order.TotalMoney)
	discount := fromMinorUnits(order.TotalDiscountMoney)
	tax := fromMinorUnits(order.TotalTaxMoney)

	sale := models.PosSale{
		BusinessId:    businessId,
		Provider:      models.IntegrationProviderSquare,
		ExternalId:    order.ID,
		LocationId:    order.LocationId,
		SaleDate:      saleDate.UTC(),
		GrossRevenue:  gross,
		DiscountTotal: discount,
		NetRevenue:    gross.Sub(discount),
		TaxAmount:     tax,
		TotalAmount:   gross,
		PaymentMethod: derivePaymentMethod(order.Tenders),
		Status:        order.State,
	}

	for _, item := range order.LineItems {
		qty := decimal.NewFromInt(1)
		if q, err := utils.ParseDecimal(item.Quantity); err == nil && q.IsPositive() {
			qty = q
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = "Unnamed item"
		}
		sale.Lines = append(sale.Lines, models.PosSaleLine{
			BusinessId: businessId,
			Name:       name,
			Quantity:   qty,
			UnitPrice:  fromMinorUnits(item.BasePriceMoney),
			LineTotal:  fromMinorUnits(item.TotalMoney),
		})
	}

	return sale, nil
}

func parseOrderTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
