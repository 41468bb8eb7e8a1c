package services

import (
	"fmt"
	"math"

	"github.com/tayteboss/bfl/internal/domain"
)

// SummaryLine is one row of the order summary.
type SummaryLine struct {
	GroupKey     string `json:"groupKey"`
	Group        string `json:"group"`
	Option       string `json:"option"`
	Price        int64  `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
}

// PriceBreakdown is the derived pricing result for the current selection.
type PriceBreakdown struct {
	BasePrice         int64         `json:"basePrice"`
	OptionsTotal      int64         `json:"optionsTotal"`
	PerUnit           int64         `json:"perUnit"`
	Quantity          int           `json:"quantity"`
	GrandTotal        int64         `json:"grandTotal"`
	Clamped           bool          `json:"clamped,omitempty"`
	Lines             []SummaryLine `json:"lines"`
	SummaryVisible    bool          `json:"summaryVisible"`
	PerUnitDisplay    string        `json:"perUnitDisplay"`
	GrandTotalDisplay string        `json:"grandTotalDisplay"`
}

// CalculatePrice sums the base price and the effective price of every selected, visible and
// enabled option, then multiplies by quantity. The per-unit total is floored at zero.
func CalculatePrice(basePrice int64, eval Evaluation, quantity int, symbol string) (PriceBreakdown, error) {
	if quantity < 1 {
		return PriceBreakdown{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	result := PriceBreakdown{
		BasePrice: basePrice,
		Quantity:  quantity,
		Lines:     []SummaryLine{},
	}
	for _, group := range eval.Groups {
		if !group.Visible {
			continue
		}
		for _, cluster := range group.Clusters {
			if !cluster.Visible {
				continue
			}
			for _, opt := range cluster.Options {
				if !opt.Selected || !opt.Visible || opt.Disabled {
					continue
				}
				result.OptionsTotal += opt.Price
				if opt.Sentinel {
					continue
				}
				result.Lines = append(result.Lines, SummaryLine{
					GroupKey:     cluster.Key,
					Group:        cluster.Label,
					Option:       opt.Label,
					Price:        opt.Price,
					PriceDisplay: domain.FormatMoney(opt.Price, symbol),
				})
			}
		}
	}
	result.PerUnit = basePrice + result.OptionsTotal
	if result.PerUnit < 0 {
		result.PerUnit = 0
		result.Clamped = true
	}
	if result.PerUnit > 0 && int64(quantity) > math.MaxInt64/result.PerUnit {
		return PriceBreakdown{}, fmt.Errorf("%w: grand total overflows", ErrInvalidQuantity)
	}
	result.GrandTotal = result.PerUnit * int64(quantity)
	result.SummaryVisible = len(result.Lines) > 0
	result.PerUnitDisplay = domain.FormatMoney(result.PerUnit, symbol)
	result.GrandTotalDisplay = domain.FormatMoney(result.GrandTotal, symbol)
	return result, nil
}
