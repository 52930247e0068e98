package form

import (
	"reflect"
	"testing"
)

// the running example: a job card with items, each item with parts
func jobCardFields() []Field {
	return []Field{
		{Name: "Customer Name", Key: "customer_name", Type: KindText, Mandatory: true},
		{Name: "Customer Phone", Key: "customer_phone", Type: KindText, Mandatory: true},
		{Name: "Status", Key: "status", Type: KindDropdown, Options: []Option{
			{Value: "Received", Color: "#2d7ff9"},
			{Value: "In Repair"},
			{Value: "Ready", DisplayByDefault: true},
		}},
		{Name: "Paid", Key: "paid", Type: KindCheckbox},
		{Name: "Due Date", Key: "due_date", Type: KindDate},
		{Name: "Items", Key: "items", Type: KindList, Fields: []Field{
			{Name: "Item Name", Key: "item_name", Type: KindText},
			{Name: "Qty", Key: "qty", Type: KindNumber},
			{Name: "Parts", Key: "parts", Type: KindList, Fields: []Field{
				{Name: "Part Name", Key: "part_name", Type: KindText},
				{Name: "Part Qty", Key: "part_qty", Type: KindNumber},
				{Name: "Part Price", Key: "part_price", Type: KindNumber},
			}},
		}},
	}
}

func TestDefaults(t *testing.T) {
	rec := Defaults(jobCardFields())

	if rec["customer_name"] != "" || rec["due_date"] != "" {
		t.Error("text and date fields must default to the empty string")
	}
	if rec["status"] != "Received" {
		t.Errorf("dropdown must default to its first option, got %v", rec["status"])
	}
	if rec["paid"] != false {
		t.Error("checkbox must default to false")
	}

	rows := rec.Rows("items")
	if len(rows) != 1 {
		t.Fatalf("list must default to exactly one row, got %d", len(rows))
	}
	row := rows[0]
	if row["item_name"] != "" {
		t.Error("row text field must default to the empty string")
	}
	if row["qty"] != float64(1) {
		t.Errorf("quantity must default to 1, got %v", row["qty"])
	}
	if parts := toRows(row["parts"]); len(parts) != 0 {
		t.Errorf("nested list inside a default row must start empty, got %d rows", len(parts))
	}
}

func TestDefaultsEmptyDropdown(t *testing.T) {
	rec := Defaults([]Field{{Name: "Status", Key: "status", Type: KindDropdown}})
	if rec["status"] != "" {
		t.Errorf("dropdown without options must default to empty string, got %v", rec["status"])
	}
}

func TestDefaultsHeuristicOverridesType(t *testing.T) {
	// a text field whose key contains "qty" still defaults to numeric 1
	fields := []Field{
		{Name: "Qty Note", Key: "qty_note", Type: KindText},
		{Name: "Price Tag", Key: "price_tag", Type: KindDate},
		{Name: "Paid Price", Key: "paid_price", Type: KindCheckbox},
	}
	rec := Defaults(fields)
	if rec["qty_note"] != float64(1) {
		t.Errorf("qty heuristic must win over text type, got %v", rec["qty_note"])
	}
	if rec["price_tag"] != float64(0) {
		t.Errorf("price heuristic must win over date type, got %v", rec["price_tag"])
	}
	if rec["paid_price"] != float64(0) {
		t.Errorf("price heuristic must win over checkbox type, got %v", rec["paid_price"])
	}
}

func TestDefaultsIdempotence(t *testing.T) {
	fields := jobCardFields()
	first := Defaults(fields)
	second := Defaults(fields)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("defaults are not stable:\n%v\n%v", first, second)
	}
}

func TestDefaultRowStartsListsEmpty(t *testing.T) {
	items, _ := itemsField(jobCardFields())
	row := DefaultRow(items.Fields)
	if len(toRows(row["parts"])) != 0 {
		t.Error("DefaultRow must not pre-populate nested lists")
	}
	if row["qty"] != float64(1) {
		t.Error("DefaultRow must apply the quantity default")
	}
}
