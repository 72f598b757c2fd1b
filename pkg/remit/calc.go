package remit

import (
	"fmt"
	"math"
	"strings"
)

// Quote is a priced transfer, ready to be shown to the customer.
type Quote struct {
	SendAmount      float64  `json:"sendAmount"`
	SendCurrency    string   `json:"sendCurrency"`
	Fee             float64  `json:"fee"`
	NetAmount       float64  `json:"netAmount"`
	Rate            float64  `json:"rate"`
	ReceiveAmount   float64  `json:"receiveAmount"`
	ReceiveCurrency string   `json:"receiveCurrency"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Calculator prices transfers from a mid-market rate table plus
// per-corridor adjustments.
type Calculator struct {
	margin  float64
	reverse map[string]bool
}

// NewCalculator takes the margin applied on top of the adjusted rate
// and the destination currencies quoted through the inverse corridor.
func NewCalculator(margin float64, reverseCorridors []string) *Calculator {
	rev := make(map[string]bool, len(reverseCorridors))
	for _, c := range reverseCorridors {
		rev[strings.ToUpper(c)] = true
	}
	return &Calculator{margin: margin, reverse: rev}
}

// AdjustmentKey normalizes a corridor pair to the FROM_TO form used in
// the adjustments table.
func AdjustmentKey(from, to string) string {
	return strings.ToUpper(from) + "_" + strings.ToUpper(to)
}

// CustomerRate derives the rate offered to the customer:
// (mid + adjustment) * (1 + margin). Reverse corridors invert the
// opposite pairing first.
func (c *Calculator) CustomerRate(rates, adjustments map[string]float64, from, to string) (float64, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	mid, err := c.midMarketRate(rates, from, to)
	if err != nil {
		return 0, err
	}
	adj := adjustments[AdjustmentKey(from, to)]
	rate := (mid + adj) * (1 + c.margin)
	if rate <= 0 {
		return 0, fmt.Errorf("non-positive rate for %s to %s", from, to)
	}
	return rate, nil
}

func (c *Calculator) midMarketRate(rates map[string]float64, from, to string) (float64, error) {
	if c.reverse[to] {
		if inv, ok := rates[to+from]; ok && inv != 0 {
			return 1 / inv, nil
		}
	}
	if direct, ok := rates[from+to]; ok && direct != 0 {
		return direct, nil
	}
	if inv, ok := rates[to+from]; ok && inv != 0 {
		return 1 / inv, nil
	}
	return 0, fmt.Errorf("no rate available for %s to %s", from, to)
}

// Price computes the full quote: fee, net amount, and the receive
// amount rounded to the destination currency's decimal places.
// Zero-decimal payouts floor so the customer is never quoted more than
// can be delivered.
func (c *Calculator) Price(rates, adjustments map[string]float64, sendAmount float64, from, to string) (*Quote, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if _, ok := Currencies[from]; !ok {
		return nil, fmt.Errorf("unsupported send currency %s", from)
	}
	if _, ok := Currencies[to]; !ok {
		return nil, fmt.Errorf("unsupported receive currency %s", to)
	}
	if sendAmount < MinSendAmount {
		return nil, fmt.Errorf("minimum send amount is %.0f %s", MinSendAmount, from)
	}

	rate, err := c.CustomerRate(rates, adjustments, from, to)
	if err != nil {
		return nil, err
	}

	var fee float64
	if from == "RUB" {
		fee = FixedFeeRUB
	}
	net := sendAmount - fee
	if net <= 0 {
		return nil, fmt.Errorf("amount %.2f does not cover the %.0f %s fee", sendAmount, fee, from)
	}

	receive := net * rate
	if to == "RUB" {
		receive -= PayoutFeeRUB
		if receive <= 0 {
			return nil, fmt.Errorf("amount too small to cover the payout fee")
		}
	}
	receive = RoundAmount(receive, to)

	quote := &Quote{
		SendAmount:      sendAmount,
		SendCurrency:    from,
		Fee:             fee,
		NetAmount:       net,
		Rate:            rate,
		ReceiveAmount:   receive,
		ReceiveCurrency: to,
	}
	if sendAmount > MaxSendAmount {
		quote.Warnings = append(quote.Warnings,
			fmt.Sprintf("amount exceeds %.0f %s and may require additional verification", MaxSendAmount, from))
	}
	return quote, nil
}

// RoundAmount rounds a money amount to the currency's decimal places.
// Zero-decimal currencies floor.
func RoundAmount(amount float64, currency string) float64 {
	info, ok := Currencies[strings.ToUpper(currency)]
	if !ok || info.DecimalPlaces == 0 {
		return math.Floor(amount)
	}
	scale := math.Pow(10, float64(info.DecimalPlaces))
	return math.Round(amount*scale) / scale
}

// FormatAmount renders an amount with the currency's symbol and
// decimal places.
func FormatAmount(amount float64, currency string) string {
	info, ok := Currencies[strings.ToUpper(currency)]
	if !ok {
		return fmt.Sprintf("%.2f %s", amount, currency)
	}
	return fmt.Sprintf("%s%s", info.Symbol, formatGrouped(amount, info.DecimalPlaces))
}

func formatGrouped(amount float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, amount)
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
