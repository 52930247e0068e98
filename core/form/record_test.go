package form

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestAppendRow(t *testing.T) {
	fields := jobCardFields()
	rec := Defaults(fields)

	out, err := AppendRow(rec, fields, "items")
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, out.Rows("items"), 2)
	assert.Len(t, rec.Rows("items"), 1, "AppendRow must not mutate its input")

	// the fresh row follows the default rules
	row := out.Rows("items")[1]
	assert.Equal(t, float64(1), row["qty"])
	assert.Len(t, toRows(row["parts"]), 0)

	_, err = AppendRow(rec, fields, "customer_name")
	assert.Error(t, err, "appending to a non-list field must fail")
}

func TestRemoveRow(t *testing.T) {
	fields := jobCardFields()
	rec := Defaults(fields)
	rec, _ = AppendRow(rec, fields, "items")
	rec, _ = SetCell(rec, "items", 0, "item_name", "first")
	rec, _ = SetCell(rec, "items", 1, "item_name", "second")

	out, err := RemoveRow(rec, "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	rows := out.Rows("items")
	assert.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0]["item_name"], "removal is positional, order preserved")
	assert.Len(t, rec.Rows("items"), 2, "RemoveRow must not mutate its input")

	_, err = RemoveRow(rec, "items", 7)
	assert.Error(t, err)
}

func TestSetCellAndSetValue(t *testing.T) {
	fields := jobCardFields()
	rec := Defaults(fields)

	out := SetValue(rec, "customer_name", "Ada")
	assert.Equal(t, "Ada", out["customer_name"])
	assert.Equal(t, "", rec["customer_name"])

	// no coercion until validation time, the raw string is stored as-is
	out, err := SetCell(out, "items", 0, "qty", "3")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "3", out.Rows("items")[0]["qty"])
}

func TestRowsFromUnmarshalledJSON(t *testing.T) {
	// records reloaded from storage arrive as generic JSON values
	var rec Record
	err := json.Unmarshal([]byte(`{"items":[{"item_name":"display","qty":2}]}`), &rec)
	if err != nil {
		t.Fatal(err)
	}
	rows := rec.Rows("items")
	assert.Len(t, rows, 1)
	assert.Equal(t, "display", rows[0]["item_name"])

	out, err := RemoveRow(rec, "items", 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, out.Rows("items"), 0)
}

func TestNumberContract(t *testing.T) {
	testCases := []struct {
		value interface{}
		want  float64
		ok    bool
	}{
		{float64(2.5), 2.5, true},
		{"50", 50, true},
		{" 50.5 ", 50.5, true},
		{"bad", 0, false},
		{"", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range testCases {
		got, ok := Number(tc.value)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Number(%v) = %v,%v, want %v,%v", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := Record{
		"customer_name": "Ada",
		"items": []Record{
			{"item_name": "display", "parts": []Record{{"part_name": "panel"}}},
		},
	}
	clone := rec.Clone()
	clone.Rows("items")[0]["item_name"] = "battery"
	clone.Rows("items")[0].Rows("parts")[0]["part_name"] = "cell"

	assert.Equal(t, "display", rec.Rows("items")[0]["item_name"])
	assert.Equal(t, "panel", rec.Rows("items")[0].Rows("parts")[0]["part_name"])
}
