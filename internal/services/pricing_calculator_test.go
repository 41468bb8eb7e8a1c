package services

import (
	"errors"
	"testing"

	"github.com/tayteboss/bfl/internal/domain"
)

func TestCalculatePriceBaseOnly(t *testing.T) {
	svc := testService(t, "develop-scan")
	eval := EvaluateRules(svc, domain.Selection{})

	price, err := CalculatePrice(svc.BasePrice, eval, 1, "$")
	if err != nil {
		t.Fatalf("CalculatePrice error: %v", err)
	}
	if price.PerUnit != 2100 || price.GrandTotalDisplay != "$21.00" {
		t.Fatalf("expected $21.00, got %d %s", price.PerUnit, price.GrandTotalDisplay)
	}
	for _, line := range price.Lines {
		if line.GroupKey == "scan-resolution" || line.GroupKey == "push-pull" {
			t.Fatalf("sentinel selections must not appear in the summary: %+v", line)
		}
	}
	if !price.SummaryVisible || len(price.Lines) != 1 || price.Lines[0].Option != "35mm" {
		t.Fatalf("expected only the format line, got %+v", price.Lines)
	}
}

func TestCalculatePriceOverride(t *testing.T) {
	svc := testService(t, "develop-scan")
	eval := EvaluateRules(svc, domain.Selection{
		"film-development-format": {Value: "120mm", Origin: domain.OriginUser},
		"scan-resolution":         {Value: "High", Origin: domain.OriginUser},
	})

	price, err := CalculatePrice(svc.BasePrice, eval, 1, "$")
	if err != nil {
		t.Fatalf("CalculatePrice error: %v", err)
	}
	if price.PerUnit != 2300 || price.PerUnitDisplay != "$23.00" {
		t.Fatalf("expected $23.00, got %s", price.PerUnitDisplay)
	}
}

func TestCalculatePriceQuantity(t *testing.T) {
	svc := testService(t, "develop-scan")
	eval := EvaluateRules(svc, domain.Selection{})

	price, err := CalculatePrice(svc.BasePrice, eval, 3, "$")
	if err != nil {
		t.Fatalf("CalculatePrice error: %v", err)
	}
	if price.PerUnit != 2100 || price.GrandTotal != 6300 || price.GrandTotalDisplay != "$63.00" {
		t.Fatalf("unexpected totals %+v", price)
	}

	if _, err := CalculatePrice(svc.BasePrice, eval, 0, "$"); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCalculatePriceIgnoresHiddenAndDisabled(t *testing.T) {
	eval := Evaluation{Groups: []GroupState{
		{Key: "a", Visible: true, Clusters: []ClusterState{{
			Key: "a", Label: "A", Visible: true,
			Options: []OptionState{
				{Value: "stale", Label: "Stale", Selected: true, Visible: false, Price: 1000},
				{Value: "locked", Label: "Locked", Selected: true, Visible: true, Disabled: true, Price: 700},
				{Value: "ok", Label: "OK", Selected: true, Visible: true, Price: 100},
			},
		}}},
		{Key: "b", Visible: false, Clusters: []ClusterState{{
			Key: "b", Visible: true,
			Options: []OptionState{{Value: "x", Selected: true, Visible: true, Price: 5000}},
		}}},
	}}

	price, err := CalculatePrice(2100, eval, 1, "$")
	if err != nil {
		t.Fatalf("CalculatePrice error: %v", err)
	}
	if price.PerUnit != 2200 {
		t.Fatalf("expected only the visible enabled option to count, got %d", price.PerUnit)
	}
}

func TestCalculatePriceClampsNegativeTotal(t *testing.T) {
	eval := Evaluation{Groups: []GroupState{{Key: "a", Visible: true, Clusters: []ClusterState{{
		Key: "a", Visible: true,
		Options: []OptionState{{Value: "discount", Label: "Discount", Selected: true, Visible: true, Price: -5000}},
	}}}}}

	price, err := CalculatePrice(2100, eval, 2, "$")
	if err != nil {
		t.Fatalf("CalculatePrice error: %v", err)
	}
	if !price.Clamped || price.PerUnit != 0 || price.GrandTotal != 0 || price.GrandTotalDisplay != "$0.00" {
		t.Fatalf("expected clamp to zero, got %+v", price)
	}
}
