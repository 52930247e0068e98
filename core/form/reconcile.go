// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

// Reconcile prepares a stored record for display against the current
// schema, which may have changed shape since the record was written.
// Schema drift is never an error:
//
//   - keys in the record that the schema no longer knows are preserved
//     verbatim; the form surface ignores them, storage keeps them
//   - schema fields the record has no value for stay absent; the surface
//     renders the default widget state and no value is synthesized until
//     the user edits and saves
//   - a value that is not a row sequence under a key the schema now types
//     as list is preserved verbatim; the field type drifted and the
//     stored value is not ours to discard
//
// The policy holds transitively through nested list rows. The returned
// record is a deep copy, row containers of known list fields are
// normalized to []Record.
func Reconcile(fields []Field, rec Record) Record {
	out := rec.Clone()
	for _, f := range fields {
		if f.Type != KindList {
			continue
		}
		value, ok := out[f.Key]
		if !ok {
			continue
		}
		var length int
		switch v := value.(type) {
		case []Record:
			length = len(v)
		case []interface{}:
			length = len(v)
		default:
			continue
		}
		rows := toRows(value)
		if len(rows) != length {
			continue
		}
		reconciled := make([]Record, len(rows))
		for i, row := range rows {
			reconciled[i] = Reconcile(f.Fields, row)
		}
		out[f.Key] = reconciled
	}
	return out
}
