package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairCost(t *testing.T) {
	parts := []Record{
		{"part_qty": float64(2), "part_price": float64(50)},
		{"part_qty": float64(1), "part_price": "bad"},
	}
	assert.Equal(t, float64(100), RepairCost(parts), "non-numeric price contributes 0")
}

func TestRepairCostEdgeTerms(t *testing.T) {
	testCases := []struct {
		name  string
		parts []Record
		want  float64
	}{
		{"empty", nil, 0},
		{"missing price", []Record{{"part_qty": float64(3)}}, 0},
		{"missing qty", []Record{{"part_price": float64(10)}}, 0},
		{"string numbers", []Record{{"part_qty": "2", "part_price": "9.5"}}, 19},
		{"mixed", []Record{
			{"part_qty": float64(2), "part_price": float64(50)},
			{"part_qty": "x", "part_price": float64(99)},
			{"part_qty": "3", "part_price": "10"},
		}, 130},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RepairCost(tc.parts))
		})
	}
}

func TestTotalRepairCost(t *testing.T) {
	fields := jobCardFields()
	rec := Record{
		"items": []Record{
			{"item_name": "display", "parts": []Record{
				{"part_name": "panel", "part_qty": float64(1), "part_price": float64(80)},
				{"part_name": "glue", "part_qty": float64(2), "part_price": float64(5)},
			}},
			{"item_name": "battery", "parts": []Record{
				{"part_name": "cell", "part_qty": float64(1), "part_price": float64(30)},
			}},
		},
	}
	assert.Equal(t, float64(120), TotalRepairCost(fields, rec))
}

func TestTotalRepairCostWithoutItems(t *testing.T) {
	fields := []Field{{Name: "Note", Key: "note", Type: KindText}}
	assert.Equal(t, float64(0), TotalRepairCost(fields, Record{"note": "x"}))
}
