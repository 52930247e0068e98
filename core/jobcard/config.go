// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package jobcard

// ResourceConfiguration declares the resource tree of the job-card
// service. A shop is the tenant root, everything a shop owns lives below
// it. The shopowner role is scoped to its own shop through the shop
// selector; admins can reach everything.
const ResourceConfiguration = `{
  "collections": [
    {
      "resource": "account",
      "external_index": "identity",
      "description": "authorization accounts, looked up by identity"
    },
    {
      "resource": "shop",
      "static_properties": ["name"],
      "searchable_properties": ["city"],
      "description": "one repair shop, the tenant root",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["read", "update"]
        }
      ]
    },
    {
      "resource": "shop/customer",
      "searchable_properties": ["phone"],
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    },
    {
      "resource": "shop/item",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    },
    {
      "resource": "shop/part",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    },
    {
      "resource": "shop/template",
      "description": "customer message templates with {{field_key}} placeholders",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    },
    {
      "resource": "shop/jobcard",
      "static_properties": ["status"],
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    },
    {
      "resource": "shop/jobcard/attachment",
      "with_companion_file": true,
      "description": "device photos, stored as companion files",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["create", "read", "update", "delete", "list", "clear"]
        }
      ]
    }
  ],
  "singletons": [
    {
      "resource": "shop/formschema",
      "schema_id": "http://jobcard.relabs.tech/formschema.json",
      "description": "the shop's job-card field tree",
      "permits": [
        {
          "role": "shopowner",
          "selectors": ["shop"],
          "operations": ["read", "update"]
        }
      ]
    }
  ],
  "shortcuts": [
    {
      "shortcut": "myshop",
      "target": "shop",
      "roles": ["shopowner"]
    }
  ]
}
`
