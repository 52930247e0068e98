// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

import (
	"fmt"
	"strings"
)

// Errors maps a field location to a message. Locations are either a
// top-level field key or a row-scoped path like "items[2].qty", so the
// form surface can place each message beside the offending input.
type Errors map[string]string

// Valid returns true if there are no errors
func (e Errors) Valid() bool {
	return len(e) == 0
}

// Validate checks a candidate record against the schema before it may be
// saved. All violations are collected, validation never stops at the
// first one. The rules:
//
//   - customer_name must be non-empty after trimming
//   - customer_phone must contain exactly 10 digits, any formatting
//     characters are ignored
//   - the line-item list must have at least one row; every row needs a
//     non-empty identifying name and a quantity greater than zero
//   - every part row inside an item needs a non-empty name
//
// Empty part prices and quantities are not violations, they are coerced
// by Normalize on commit.
func Validate(fields []Field, rec Record) Errors {
	errs := Errors{}

	if strings.TrimSpace(String(rec["customer_name"])) == "" {
		errs["customer_name"] = "customer name is required"
	}
	if digits := digitsOf(String(rec["customer_phone"])); len(digits) != 10 {
		errs["customer_phone"] = "phone number must have 10 digits"
	}

	items, ok := itemsField(fields)
	if !ok {
		return errs
	}
	rows := rec.Rows(items.Key)
	if len(rows) == 0 {
		errs[items.Key] = "at least one item is required"
		return errs
	}

	nameKey, hasName := identifyingKey(items.Fields)
	qtyKey, hasQty := quantityKey(items.Fields)
	for i, row := range rows {
		if hasName {
			if strings.TrimSpace(String(row[nameKey])) == "" {
				errs[rowPath(items.Key, i, nameKey)] = "item name is required"
			}
		}
		if hasQty {
			if qty, ok := Number(row[qtyKey]); !ok || qty <= 0 {
				errs[rowPath(items.Key, i, qtyKey)] = "quantity must be a number greater than zero"
			}
		}
		for _, sub := range items.Fields {
			if sub.Type != KindList {
				continue
			}
			partNameKey, ok := identifyingKey(sub.Fields)
			if !ok {
				continue
			}
			for j, part := range toRows(row[sub.Key]) {
				if strings.TrimSpace(String(part[partNameKey])) == "" {
					errs[rowPath(rowPath(items.Key, i, sub.Key), j, partNameKey)] = "part name is required"
				}
			}
		}
	}
	return errs
}

// Normalize applies the commit-time coercions: inside every part list of
// every item row, an omitted or empty price becomes 0 and an omitted or
// empty quantity becomes 1. The input record is not modified.
func Normalize(fields []Field, rec Record) Record {
	out := rec.Clone()
	items, ok := itemsField(fields)
	if !ok {
		return out
	}
	for _, row := range out.Rows(items.Key) {
		for _, sub := range items.Fields {
			if sub.Type != KindList {
				continue
			}
			for _, part := range toRows(row[sub.Key]) {
				for _, f := range sub.Fields {
					value, present := part[f.Key]
					filled := present && strings.TrimSpace(String(value)) != ""
					if IsPriceField(f.Key) && !filled {
						part[f.Key] = float64(0)
					}
					if IsQuantityField(f.Key) && !filled {
						part[f.Key] = float64(1)
					}
				}
			}
		}
	}
	return out
}

// itemsField designates the line-item list: the first top-level list
// field of the schema
func itemsField(fields []Field) (Field, bool) {
	for _, f := range fields {
		if f.Type == KindList {
			return f, true
		}
	}
	return Field{}, false
}

// identifyingKey is the sub-field naming a row: the first non-list field
// whose key contains "name"
func identifyingKey(fields []Field) (string, bool) {
	for _, f := range fields {
		if f.Type != KindList && strings.Contains(f.Key, "name") {
			return f.Key, true
		}
	}
	return "", false
}

func quantityKey(fields []Field) (string, bool) {
	for _, f := range fields {
		if f.Type != KindList && IsQuantityField(f.Key) {
			return f.Key, true
		}
	}
	return "", false
}

func rowPath(listKey string, index int, fieldKey string) string {
	return fmt.Sprintf("%s[%d].%s", listKey, index, fieldKey)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
