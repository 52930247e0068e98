// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

// Defaults derives the empty record for a schema. Every field is
// initialized: dropdowns select their first option, checkboxes are false,
// quantity fields are 1 and price fields 0 whatever their declared type,
// everything else is the empty string. A list field starts with exactly
// one default row; lists nested inside that row start empty, so deriving
// defaults never expands beyond the first level.
func Defaults(fields []Field) Record {
	return defaults(fields, true)
}

// DefaultRow derives one fresh row for a list field's sub-schema. Lists
// inside the row start as empty sequences.
func DefaultRow(fields []Field) Record {
	return defaults(fields, false)
}

func defaults(fields []Field, withRow bool) Record {
	rec := make(Record, len(fields))
	for _, f := range fields {
		rec[f.Key] = defaultValue(f, withRow)
	}
	return rec
}

func defaultValue(f Field, withRow bool) interface{} {
	// the qty/price key policies win over the declared type, except for
	// lists, whose value must stay a sequence for row operations
	if f.Type != KindList {
		if IsQuantityField(f.Key) {
			return float64(1)
		}
		if IsPriceField(f.Key) {
			return float64(0)
		}
	}
	switch f.Type {
	case KindDropdown:
		if len(f.Options) > 0 {
			return f.Options[0].Value
		}
		return ""
	case KindCheckbox:
		return false
	case KindList:
		if withRow {
			return []Record{DefaultRow(f.Fields)}
		}
		return []Record{}
	default:
		return ""
	}
}
