// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package messaging renders customer message templates and dispatches
// them to an SQS queue for the SMS gateway.
package messaging

import (
	"regexp"

	"github.com/relabs-tech/jobcard/core/form"
)

var placeholderRegexp = regexp.MustCompile(`\{\{\s*([a-z0-9_]+)\s*\}\}`)

// Render substitutes {{field_key}} placeholders in template with the
// corresponding values. Unresolved placeholders render empty.
func Render(template string, values form.Record) string {
	return placeholderRegexp.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRegexp.FindStringSubmatch(match)[1]
		value, ok := values[key]
		if !ok {
			return ""
		}
		return form.String(value)
	})
}
