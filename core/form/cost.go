// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package form

// RepairCost computes the cost of a sequence of part rows as the sum of
// quantity times price per row. Rows with a missing or non-numeric
// quantity or price contribute 0 for that term; lenient on purpose so an
// unfinished row never blocks editing. The result is recomputed on every
// call and never cached, parts mutate too often for caching to pay off.
func RepairCost(parts []Record) float64 {
	var total float64
	for _, part := range parts {
		qty, ok := policyNumber(part, IsQuantityField)
		if !ok {
			continue
		}
		price, ok := policyNumber(part, IsPriceField)
		if !ok {
			continue
		}
		total += qty * price
	}
	return total
}

// TotalRepairCost computes the repair cost of a whole job card: the sum
// of RepairCost over every part list of every item row.
func TotalRepairCost(fields []Field, rec Record) float64 {
	items, ok := itemsField(fields)
	if !ok {
		return 0
	}
	var total float64
	for _, row := range rec.Rows(items.Key) {
		for _, sub := range items.Fields {
			if sub.Type == KindList {
				total += RepairCost(toRows(row[sub.Key]))
			}
		}
	}
	return total
}
