package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCollectsAllViolations(t *testing.T) {
	fields := jobCardFields()
	rec := Record{
		"customer_name":  "",
		"customer_phone": "12345",
		"items":          []Record{},
	}
	errs := Validate(fields, rec)
	assert.False(t, errs.Valid())
	// one error per violation, not just the first one found
	assert.Contains(t, errs, "customer_name")
	assert.Contains(t, errs, "customer_phone")
	assert.Contains(t, errs, "items")
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestValidatePhone(t *testing.T) {
	fields := jobCardFields()
	base := Defaults(fields)
	base["customer_name"] = "Ada"
	base, _ = SetCell(base, "items", 0, "item_name", "phone")

	testCases := []struct {
		phone string
		valid bool
	}{
		{"5551234567", true},
		{"(555) 123-4567", true},
		{"555 123 4567", true},
		{"12345", false},
		{"555123456789", false},
		{"", false},
	}
	for _, tc := range testCases {
		t.Run(tc.phone, func(t *testing.T) {
			rec := SetValue(base, "customer_phone", tc.phone)
			errs := Validate(fields, rec)
			_, found := errs["customer_phone"]
			if tc.valid && found {
				t.Errorf("unexpected error: %s", errs["customer_phone"])
			}
			if !tc.valid && !found {
				t.Error("expected a phone error")
			}
		})
	}
}

func TestValidateRows(t *testing.T) {
	fields := jobCardFields()
	rec := Record{
		"customer_name":  "Ada",
		"customer_phone": "5551234567",
		"items": []Record{
			{"item_name": "display", "qty": float64(1)},
			{"item_name": "  ", "qty": float64(0)},
			{"item_name": "battery", "qty": "two"},
		},
	}
	errs := Validate(fields, rec)
	assert.Contains(t, errs, "items[1].item_name")
	assert.Contains(t, errs, "items[1].qty")
	assert.Contains(t, errs, "items[2].qty")
	assert.NotContains(t, errs, "items[0].item_name")
	assert.NotContains(t, errs, "items[0].qty")
}

func TestValidatePartNames(t *testing.T) {
	fields := jobCardFields()
	rec := Record{
		"customer_name":  "Ada",
		"customer_phone": "5551234567",
		"items": []Record{
			{"item_name": "display", "qty": float64(1), "parts": []Record{
				{"part_name": "panel", "part_qty": float64(1), "part_price": float64(80)},
				{"part_name": "", "part_qty": float64(1)},
			}},
		},
	}
	errs := Validate(fields, rec)
	assert.Contains(t, errs, "items[0].parts[1].part_name")
	assert.NotContains(t, errs, "items[0].parts[0].part_name")
}

func TestNormalizeCoercesPartDefaults(t *testing.T) {
	fields := jobCardFields()
	rec := Record{
		"items": []Record{
			{"item_name": "display", "qty": float64(1), "parts": []Record{
				{"part_name": "panel", "part_qty": "", "part_price": ""},
				{"part_name": "cable"},
			}},
		},
	}
	out := Normalize(fields, rec)
	parts := out.Rows("items")[0].Rows("parts")
	assert.Equal(t, float64(1), parts[0]["part_qty"], "empty quantity coerces to 1")
	assert.Equal(t, float64(0), parts[0]["part_price"], "empty price coerces to 0")
	assert.Equal(t, float64(1), parts[1]["part_qty"], "missing quantity coerces to 1")
	assert.Equal(t, float64(0), parts[1]["part_price"], "missing price coerces to 0")

	// coercion, not rejection
	errs := Validate(fields, SetValue(SetValue(out, "customer_name", "Ada"), "customer_phone", "5551234567"))
	assert.True(t, errs.Valid(), "coerced record must validate: %v", errs)

	// the input is untouched
	assert.Equal(t, "", rec.Rows("items")[0].Rows("parts")[0]["part_qty"])
}
