package remit

import (
	"math"
	"strings"
	"testing"
)

func testCalculator() *Calculator {
	return NewCalculator(0.02, []string{"KES"})
}

func TestPriceRUBToRWF(t *testing.T) {
	rates := map[string]float64{"RUBRWF": 15.0}
	adjustments := map[string]float64{}

	q, err := testCalculator().Price(rates, adjustments, 10000, "RUB", "RWF")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if q.Fee != 100 {
		t.Fatalf("expected 100 RUB fixed fee, got %v", q.Fee)
	}
	if q.NetAmount != 9900 {
		t.Fatalf("expected net 9900, got %v", q.NetAmount)
	}
	wantRate := 15.0 * 1.02
	if math.Abs(q.Rate-wantRate) > 1e-9 {
		t.Fatalf("expected rate %v, got %v", wantRate, q.Rate)
	}
	// RWF is zero-decimal, so the receive amount must floor.
	wantReceive := math.Floor(9900 * wantRate)
	if q.ReceiveAmount != wantReceive {
		t.Fatalf("expected receive %v, got %v", wantReceive, q.ReceiveAmount)
	}
}

func TestPriceAppliesAdjustment(t *testing.T) {
	rates := map[string]float64{"RUBRWF": 15.0}
	adjustments := map[string]float64{"RUB_RWF": -0.5}

	q, err := testCalculator().Price(rates, adjustments, 1000, "RUB", "RWF")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	wantRate := (15.0 - 0.5) * 1.02
	if math.Abs(q.Rate-wantRate) > 1e-9 {
		t.Fatalf("expected adjusted rate %v, got %v", wantRate, q.Rate)
	}
}

func TestCustomerRateInverseFallback(t *testing.T) {
	// Only the opposite pairing is published.
	rates := map[string]float64{"RWFRUB": 0.0625}

	rate, err := testCalculator().CustomerRate(rates, nil, "RUB", "RWF")
	if err != nil {
		t.Fatalf("CustomerRate: %v", err)
	}
	want := (1 / 0.0625) * 1.02
	if math.Abs(rate-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, rate)
	}
}

func TestCustomerRateReverseCorridorPrefersInverse(t *testing.T) {
	// KES is configured reverse, so the KESRUB pairing wins even when a
	// direct RUBKES rate exists.
	rates := map[string]float64{"RUBKES": 1.5, "KESRUB": 0.8}

	rate, err := testCalculator().CustomerRate(rates, nil, "RUB", "KES")
	if err != nil {
		t.Fatalf("CustomerRate: %v", err)
	}
	want := (1 / 0.8) * 1.02
	if math.Abs(rate-want) > 1e-9 {
		t.Fatalf("expected inverse-derived rate %v, got %v", want, rate)
	}
}

func TestCustomerRateMissingCorridor(t *testing.T) {
	if _, err := testCalculator().CustomerRate(map[string]float64{}, nil, "RUB", "RWF"); err == nil {
		t.Fatal("expected error for missing corridor")
	}
}

func TestPriceRejectsBelowMinimum(t *testing.T) {
	rates := map[string]float64{"RUBRWF": 15.0}
	if _, err := testCalculator().Price(rates, nil, 50, "RUB", "RWF"); err == nil {
		t.Fatal("expected error below minimum send amount")
	}
}

func TestPriceWarnsAboveMaximum(t *testing.T) {
	rates := map[string]float64{"RUBRWF": 15.0}
	q, err := testCalculator().Price(rates, nil, 600000, "RUB", "RWF")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if len(q.Warnings) == 0 {
		t.Fatal("expected a warning above the maximum send amount")
	}
}

func TestPriceRejectsUnsupportedCurrency(t *testing.T) {
	rates := map[string]float64{"RUBXXX": 1}
	if _, err := testCalculator().Price(rates, nil, 1000, "RUB", "XXX"); err == nil {
		t.Fatal("expected error for unsupported currency")
	}
}

func TestPricePayoutFeeOnRUBLeg(t *testing.T) {
	rates := map[string]float64{"KESRUB": 0.8}
	calc := NewCalculator(0, nil)

	q, err := calc.Price(rates, nil, 1000, "KES", "RUB")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	// No fixed fee on the KES side, payout fee deducted from the RUB.
	if q.Fee != 0 {
		t.Fatalf("expected no fixed fee, got %v", q.Fee)
	}
	want := RoundAmount(1000*0.8-PayoutFeeRUB, "RUB")
	if q.ReceiveAmount != want {
		t.Fatalf("expected receive %v, got %v", want, q.ReceiveAmount)
	}
}

func TestRoundAmountZeroDecimalFloors(t *testing.T) {
	if got := RoundAmount(151470.9, "RWF"); got != 151470 {
		t.Fatalf("expected floor to 151470, got %v", got)
	}
	if got := RoundAmount(99.996, "RUB"); got != 100.00 {
		t.Fatalf("expected round to 100.00, got %v", got)
	}
}

func TestFormatAmountGrouping(t *testing.T) {
	got := FormatAmount(151470, "RWF")
	if got != "FRw151,470" {
		t.Fatalf("unexpected format %q", got)
	}
	if !strings.Contains(FormatAmount(10000, "RUB"), "10,000.00") {
		t.Fatalf("unexpected RUB format %q", FormatAmount(10000, "RUB"))
	}
}

func TestStatusDescriptions(t *testing.T) {
	if StatusDescription(StatusPendingPayment) == string(StatusPendingPayment) {
		t.Fatal("expected a human description for pending_payment")
	}
	if !IsValidStatus("processing") {
		t.Fatal("processing should be a valid status")
	}
	if IsValidStatus("teleported") {
		t.Fatal("unknown status should be invalid")
	}
}

func TestDeliveryMethodsUnknownCurrency(t *testing.T) {
	dm := DeliveryMethodsFor("XYZ")
	if dm.MobileProviders == nil || dm.Banks == nil {
		t.Fatal("unknown currency should yield empty lists, not nil")
	}
	if len(dm.MobileProviders) != 0 || len(dm.Banks) != 0 {
		t.Fatal("unknown currency should have no options")
	}
}

func TestIsValidPhone(t *testing.T) {
	valid := []string{"+250788123456", "250788123456", "+79161234567"}
	for _, p := range valid {
		if !IsValidPhone(p) {
			t.Errorf("expected %q to be valid", p)
		}
	}
	invalid := []string{"", "12345", "+250-788-123", "phone"}
	for _, p := range invalid {
		if IsValidPhone(p) {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}
