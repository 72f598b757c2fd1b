package tools

import (
	"context"
	"strings"

	"github.com/ikamba/ikamba-agent/pkg/remit"
)

// DeliveryMethodsTool answers "how can money be received" for a
// destination currency or country.
type DeliveryMethodsTool struct{}

func NewDeliveryMethodsTool() *DeliveryMethodsTool {
	return &DeliveryMethodsTool{}
}

func (t *DeliveryMethodsTool) Name() string {
	return "get_delivery_methods"
}

func (t *DeliveryMethodsTool) Description() string {
	return "List how money can be delivered for a destination currency: mobile money providers, banks, and whether cash pickup is available."
}

func (t *DeliveryMethodsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"currency": map[string]interface{}{"type": "string", "description": "Destination currency code, e.g. RWF"},
			"country":  map[string]interface{}{"type": "string", "description": "Destination country name, used when the currency is not given"},
		},
		"required": []string{},
	}
}

func (t *DeliveryMethodsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	currency := strings.ToUpper(strings.TrimSpace(stringArg(args, "currency")))
	if currency == "" {
		if country := strings.ToLower(strings.TrimSpace(stringArg(args, "country"))); country != "" {
			if info, ok := remit.Countries[country]; ok {
				currency = info.Currency
			}
		}
	}
	if currency == "" {
		return JSONError("pass a currency code or a country name")
	}

	// Unknown currencies come back as empty lists, never an error.
	dm := remit.DeliveryMethodsFor(currency)
	return JSONResult(map[string]interface{}{
		"success":         true,
		"currency":        dm.Currency,
		"mobileProviders": dm.MobileProviders,
		"banks":           dm.Banks,
		"cashPickup":      dm.CashPickup,
	})
}
