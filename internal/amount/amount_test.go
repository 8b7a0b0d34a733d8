package amount

import (
	"testing"

	"cod-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyPercentChain(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		percents []decimal.NullDecimal
		expected string
	}{
		{"no discounts", "1000", nil, "1000"},
		{"single", "1000", []decimal.NullDecimal{nd("10")}, "900"},
		{"chained", "1000", []decimal.NullDecimal{nd("10"), nd("50")}, "450"},
		{"missing skipped", "1000", []decimal.NullDecimal{{}, nd("20")}, "800"},
		{"above 100 skipped", "1000", []decimal.NullDecimal{nd("150")}, "1000"},
		{"negative skipped", "1000", []decimal.NullDecimal{nd("-5")}, "1000"},
		{"full discount", "1000", []decimal.NullDecimal{nd("100")}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyPercentChain(d(tt.value), tt.percents...)
			if !got.Equal(d(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNet(t *testing.T) {
	tests := []struct {
		name     string
		items    []models.LineItem
		expected string
		ok       bool
	}{
		{
			name:     "no items",
			items:    nil,
			expected: "0",
			ok:       false,
		},
		{
			name: "single line",
			items: []models.LineItem{
				{Quantity: nd("2"), UnitPrice: nd("1995")},
			},
			expected: "3990",
			ok:       true,
		},
		{
			name: "order then line discount",
			items: []models.LineItem{
				{Quantity: nd("1"), UnitPrice: nd("1000"), OrderDiscount: nd("10"), LineDiscount: nd("50")},
			},
			expected: "450",
			ok:       true,
		},
		{
			name: "shipping counted once with order discount only",
			items: []models.LineItem{
				{Quantity: nd("1"), UnitPrice: nd("1000"), ShippingAddon: nd("400"), OrderDiscount: nd("50"), LineDiscount: nd("10")},
				{Quantity: nd("1"), UnitPrice: nd("500"), ShippingAddon: nd("400"), OrderDiscount: nd("50")},
			},
			// 1000*.5*.9 + 500*.5 + 400*.5
			expected: "900",
			ok:       true,
		},
		{
			name: "advances subtracted",
			items: []models.LineItem{
				{Quantity: nd("2"), UnitPrice: nd("1000"), Advance: nd("200"), LineDiscount: nd("50"), ShippingAddon: nd("300"), AddonAdvance: nd("300")},
				{Quantity: nd("1"), UnitPrice: nd("100"), AddonAdvance: nd("300")},
			},
			// 2*500 + 100 + 300 - 2*100 - 300
			expected: "900",
			ok:       true,
		},
		{
			name: "out of range discount ignored",
			items: []models.LineItem{
				{Quantity: nd("1"), UnitPrice: nd("1000"), LineDiscount: nd("120")},
			},
			expected: "1000",
			ok:       true,
		},
		{
			name: "negative quantity",
			items: []models.LineItem{
				{Quantity: nd("-1"), UnitPrice: nd("1000")},
			},
			expected: "0",
			ok:       false,
		},
		{
			name: "no monetary fields",
			items: []models.LineItem{
				{Quantity: nd("3")},
			},
			expected: "0",
			ok:       false,
		},
		{
			name: "missing quantity counts as zero",
			items: []models.LineItem{
				{UnitPrice: nd("1000"), ShippingAddon: nd("250")},
			},
			expected: "250",
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Net(tt.items)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !got.Equal(d(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestIsFullyComped(t *testing.T) {
	tests := []struct {
		name     string
		items    []models.LineItem
		expected bool
	}{
		{"empty", nil, false},
		{"all 100", []models.LineItem{{OrderDiscount: nd("100")}, {OrderDiscount: nd("100.00")}}, true},
		{"one partial", []models.LineItem{{OrderDiscount: nd("100")}, {OrderDiscount: nd("50")}}, false},
		{"one missing", []models.LineItem{{OrderDiscount: nd("100")}, {}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFullyComped(tt.items); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCentsEqual(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"1000.004", "999.999", false},
		{"1000.004", "1000.001", true},
		{"3990", "3990.00", true},
		{"-10.019", "-10.011", true},
		{"10.01", "10.02", false},
		{"1999.995", "2000.00", false},
		{"1999.995", "1999.99", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := CentsEqual(d(tt.a), d(tt.b)); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
