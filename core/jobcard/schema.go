// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package jobcard

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/jobcard/core/csql"
	"github.com/relabs-tech/jobcard/core/form"
)

// FormSchemaID is the JSON-schema id form schema documents are
// validated against when they are written
const FormSchemaID = "http://jobcard.relabs.tech/formschema.json"

//go:embed schemas/formschema.json
var formSchemaJSON string

// JSONSchemas returns the embedded JSON schemas of the service's
// resources, for the backend's document validator
func JSONSchemas() []string {
	return []string{formSchemaJSON}
}

// FormSchema is the document stored in the shop/formschema singleton
type FormSchema struct {
	Fields []form.Field `json:"fields"`
}

// DefaultFormFields is the field tree a shop starts with. Mandatory
// fields carry the validation contract and cannot be renamed or removed
// by the schema editor.
func DefaultFormFields() []form.Field {
	return []form.Field{
		{Name: "Customer Name", Key: "customer_name", Type: form.KindText, Mandatory: true},
		{Name: "Customer Phone", Key: "customer_phone", Type: form.KindText, Mandatory: true},
		{Name: "Device Model", Key: "device_model", Type: form.KindText},
		{Name: "Received On", Key: "received_on", Type: form.KindDate},
		{Name: "Condition", Key: "condition", Type: form.KindDropdown,
			Options: []form.Option{
				{Value: "good", DisplayByDefault: true},
				{Value: "scratched"},
				{Value: "damaged", Color: "#cc0000"},
			}},
		{Name: "Items", Key: "items", Type: form.KindList, Mandatory: true,
			Fields: []form.Field{
				{Name: "Item Name", Key: "item_name", Type: form.KindText, Mandatory: true},
				{Name: "Qty", Key: "qty", Type: form.KindNumber, Mandatory: true},
				{Name: "Parts", Key: "parts", Type: form.KindList,
					Fields: []form.Field{
						{Name: "Part Name", Key: "part_name", Type: form.KindText},
						{Name: "Qty", Key: "qty", Type: form.KindNumber},
						{Name: "Price", Key: "price", Type: form.KindNumber},
					}},
			}},
	}
}

// checkMandatoryFields verifies that every mandatory field of the
// current schema survives a schema edit with key and type unchanged.
// The check recurses into list sub-schemas.
func checkMandatoryFields(current, next []form.Field) error {
	for _, c := range current {
		if !c.Mandatory {
			continue
		}
		var found *form.Field
		for i := range next {
			if next[i].Key == c.Key {
				found = &next[i]
				break
			}
		}
		if found == nil {
			return fmt.Errorf("mandatory field %s cannot be renamed or removed", c.Key)
		}
		if found.Type != c.Type {
			return fmt.Errorf("mandatory field %s cannot change type", c.Key)
		}
		if c.Type == form.KindList {
			if err := checkMandatoryFields(c.Fields, found.Fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// formFields reads the field tree of a shop, falling back to the
// default tree when the shop never saved a schema.
func (s *Service) formFields(shopID string) ([]form.Field, error) {
	if shopID == "" || shopID == "all" {
		return DefaultFormFields(), nil
	}
	var properties json.RawMessage
	db := s.backend.DB()
	err := db.QueryRow(
		`SELECT properties FROM `+db.Schema+`."shop/formschema" WHERE shop_id = $1;`,
		shopID).Scan(&properties)
	if err == csql.ErrNoRows {
		return DefaultFormFields(), nil
	}
	if err != nil {
		return nil, err
	}
	var schema FormSchema
	if err := json.Unmarshal(properties, &schema); err != nil {
		return nil, fmt.Errorf("stored form schema for shop %s is unreadable: %s", shopID, err)
	}
	if len(schema.Fields) == 0 {
		return DefaultFormFields(), nil
	}
	return schema.Fields, nil
}
