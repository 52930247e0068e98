// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// patchObject merges patch into object. Values from patch win. Maps are
// merged recursively, everything else is replaced.
func patchObject(object map[string]interface{}, patch map[string]interface{}) {
	for key, value := range patch {
		current, ok := object[key]
		if !ok {
			object[key] = value
			continue
		}
		currentMap, currentIsMap := current.(map[string]interface{})
		patchMap, patchIsMap := value.(map[string]interface{})
		if currentIsMap && patchIsMap {
			patchObject(currentMap, patchMap)
		} else {
			object[key] = value
		}
	}
}

func bytesToEtag(data []byte) string {
	return fmt.Sprintf("\"%x\"", sha1.Sum(data))
}

func bytesPlusTotalCountToEtag(data []byte, totalCount int) string {
	return fmt.Sprintf("\"%x-%d\"", sha1.Sum(data), totalCount)
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", …
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
