package form

import (
	"strings"
	"testing"
)

func TestKeyForName(t *testing.T) {
	testCases := []struct {
		name string
		key  string
	}{
		{"Item   Name", "item_name"},
		{"item name", "item_name"},
		{"  Customer Phone ", "customer_phone"},
		{"Qty", "qty"},
		{"Serial\tNumber", "serial_number"},
		{"price", "price"},
	}
	for _, tc := range testCases {
		if got := KeyForName(tc.name); got != tc.key {
			t.Errorf("KeyForName(%q) = %q, want %q", tc.name, got, tc.key)
		}
	}
}

func TestKeyForNameDeterminism(t *testing.T) {
	// inputs differing only in case or whitespace run length map to the
	// same key
	variants := []string{"Item Name", "item  name", "ITEM   NAME", " item name "}
	for _, v := range variants {
		if KeyForName(v) != "item_name" {
			t.Fatalf("KeyForName(%q) = %q", v, KeyForName(v))
		}
	}
}

func TestQuantityAndPricePolicies(t *testing.T) {
	if !IsQuantityField("qty") || !IsQuantityField("part_qty") || !IsQuantityField("QtyOrdered") {
		t.Fatal("quantity policy misses a quantity key")
	}
	if IsQuantityField("quality") {
		t.Fatal("quantity policy matches 'quality'")
	}
	if !IsPriceField("price") || !IsPriceField("unit_price") {
		t.Fatal("price policy misses a price key")
	}
	if IsPriceField("priceless_note") != true {
		// substring policy by design, "priceless" does contain "price"
		t.Fatal("price policy is a substring match")
	}
}

func TestNormalizeKeys(t *testing.T) {
	fields := []Field{
		{Name: "Customer Name", Type: KindText},
		{Name: "Items", Type: KindList, Fields: []Field{
			{Name: "Item  Name", Type: KindText},
			{Name: "Parts", Type: KindList, Fields: []Field{
				{Name: "Part Name", Type: KindText},
			}},
		}},
	}
	out := NormalizeKeys(fields)
	if out[0].Key != "customer_name" {
		t.Errorf("got key %q", out[0].Key)
	}
	if out[1].Key != "items" || out[1].Fields[0].Key != "item_name" {
		t.Errorf("list keys not derived: %+v", out[1])
	}
	if out[1].Fields[1].Fields[0].Key != "part_name" {
		t.Errorf("nested keys not derived")
	}
	if fields[0].Key != "" {
		t.Error("NormalizeKeys modified its input")
	}
}

func TestCheckFieldsDuplicateSiblings(t *testing.T) {
	// "Item Name" and "item  name" collide after key derivation
	fields := NormalizeKeys([]Field{
		{Name: "Item Name", Type: KindText},
		{Name: "item  name", Type: KindText},
	})
	err := CheckFields(fields)
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !strings.Contains(err.Error(), "item_name") {
		t.Errorf("error does not name the colliding key: %v", err)
	}
}

func TestCheckFieldsInvariants(t *testing.T) {
	testCases := []struct {
		name   string
		fields []Field
		valid  bool
	}{
		{"ok", []Field{
			{Name: "Status", Key: "status", Type: KindDropdown, Options: []Option{{Value: "Open"}}},
			{Name: "Items", Key: "items", Type: KindList, Fields: []Field{
				{Name: "Item Name", Key: "item_name", Type: KindText},
			}},
		}, true},
		{"options on text", []Field{
			{Name: "A", Key: "a", Type: KindText, Options: []Option{{Value: "x"}}},
		}, false},
		{"sub-fields on number", []Field{
			{Name: "A", Key: "a", Type: KindNumber, Fields: []Field{{Name: "B", Key: "b", Type: KindText}}},
		}, false},
		{"empty list", []Field{
			{Name: "Items", Key: "items", Type: KindList},
		}, false},
		{"unknown type", []Field{
			{Name: "A", Key: "a", Type: "slider"},
		}, false},
		{"empty key", []Field{
			{Name: "   ", Key: "", Type: KindText},
		}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckFields(tc.fields)
			if tc.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCheckFieldsDepthGuard(t *testing.T) {
	leaf := []Field{{Name: "X", Key: "x", Type: KindText}}
	fields := leaf
	for i := 0; i < 12; i++ {
		fields = []Field{{Name: "L", Key: "l", Type: KindList, Fields: fields}}
	}
	if CheckFields(fields) == nil {
		t.Fatal("expected depth guard to trigger")
	}
}
