// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package pointers

// StringPtr returns a pointer to the string passed as parameter
func StringPtr(str string) *string {
	return &str
}
