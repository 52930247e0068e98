package form

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestReconcilePreservesUnknownKeys(t *testing.T) {
	fields := jobCardFields()
	stored := Record{
		"customer_name": "Ada",
		"legacy_key":    "X", // field was removed from the schema long ago
	}
	out := Reconcile(fields, stored)
	assert.Equal(t, "X", out["legacy_key"], "unknown keys survive reconciliation")

	// a full edit round trip must not strip the key either
	out = SetValue(out, "customer_name", "Grace")
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	var persisted Record
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "X", persisted["legacy_key"])
}

func TestReconcileDoesNotSynthesizeValues(t *testing.T) {
	fields := jobCardFields()
	stored := Record{"customer_name": "Ada"}
	out := Reconcile(fields, stored)
	_, present := out["status"]
	assert.False(t, present, "missing schema fields stay absent until the user edits")
	_, present = out["items"]
	assert.False(t, present)
}

func TestReconcileTransitiveThroughRows(t *testing.T) {
	fields := jobCardFields()
	stored := Record{
		"customer_name": "Ada",
		"items": []interface{}{
			map[string]interface{}{
				"item_name":  "display",
				"old_serial": "abc123", // removed row field
				"parts": []interface{}{
					map[string]interface{}{"part_name": "panel", "old_vendor": "acme"},
				},
			},
		},
	}
	out := Reconcile(fields, stored)
	rows := out.Rows("items")
	assert.Len(t, rows, 1)
	assert.Equal(t, "abc123", rows[0]["old_serial"], "drift policy holds for row fields")
	parts := rows[0].Rows("parts")
	assert.Len(t, parts, 1)
	assert.Equal(t, "acme", parts[0]["old_vendor"], "drift policy holds for nested rows")
}

func TestReconcileKeepsValuesOnFieldTypeDrift(t *testing.T) {
	// "notes" was a text field when the record was written, the current
	// schema types it as a list
	fields := []Field{
		{Name: "Customer Name", Key: "customer_name", Type: KindText},
		{Name: "Notes", Key: "notes", Type: KindList,
			Fields: []Field{{Name: "Note", Key: "note", Type: KindText}}},
	}
	stored := Record{
		"customer_name": "Ada",
		"notes":         "fragile hinge, handle with care",
	}
	out := Reconcile(fields, stored)
	assert.Equal(t, "fragile hinge, handle with care", out["notes"])

	// same policy for a sequence whose elements are not rows
	stored = Record{"notes": []interface{}{"fragile hinge", "loose screw"}}
	out = Reconcile(fields, stored)
	assert.Equal(t, []interface{}{"fragile hinge", "loose screw"}, out["notes"])

	// a save after the reconciled read still carries the value
	data, err := json.Marshal(Reconcile(fields, Record{"notes": "fragile hinge"}))
	if err != nil {
		t.Fatal(err)
	}
	var persisted Record
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "fragile hinge", persisted["notes"])
}

func TestReconcileIsACopy(t *testing.T) {
	fields := jobCardFields()
	stored := Record{"items": []Record{{"item_name": "display"}}}
	out := Reconcile(fields, stored)
	out.Rows("items")[0]["item_name"] = "battery"
	assert.Equal(t, "display", stored.Rows("items")[0]["item_name"])
}
