// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/goccy/go-json"

	"github.com/relabs-tech/jobcard/core/access"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Collections []collectionConfiguration `json:"collections"`
	Singletons  []singletonConfiguration  `json:"singletons"`
	Shortcuts   []shortcutConfiguration   `json:"shortcuts"`
}

// collectionConfiguration describes a collection resource
type collectionConfiguration struct {
	Resource                      string          `json:"resource"`
	ExternalIndex                 string          `json:"external_index"`
	StaticProperties              []string        `json:"static_properties"`
	SearchableProperties          []string        `json:"searchable_properties"`
	Permits                       []access.Permit `json:"permits"`
	Description                   string          `json:"description"`
	SchemaID                      string          `json:"schema_id"`
	Default                       json.RawMessage `json:"default"`
	WithCompanionFile             bool            `json:"with_companion_file"`
	CompanionPresignedURLValidity int             `json:"companion_presigned_url_validity"`
}

// singletonConfiguration describes a singleton resource
type singletonConfiguration struct {
	Resource             string          `json:"resource"`
	Permits              []access.Permit `json:"permits"`
	Description          string          `json:"description"`
	SchemaID             string          `json:"schema_id"`
	StaticProperties     []string        `json:"static_properties"`
	SearchableProperties []string        `json:"searchable_properties"`
	Default              json.RawMessage `json:"default"`
}

// shortcutConfiguration is a shortcut to a resource
// for an authenticated request
type shortcutConfiguration struct {
	Shortcut    string   `json:"shortcut"`
	Target      string   `json:"target"`
	Roles       []string `json:"roles"`
	Description string   `json:"description"`
}
