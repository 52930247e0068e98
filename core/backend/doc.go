// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backend realizes a declarative REST storage layer on top of PostgreSQL.

Collections, singletons and shortcuts are declared in a JSON configuration:

	{
	  "collections": [
	    {
	      "resource": "shop",
	      "external_index": "registration_code",
	      "searchable_properties": ["city"]
	    },
	    {
	      "resource": "shop/jobcard",
	      "static_properties": ["status"],
	      "permits": [
	        {
	          "role": "shopowner",
	          "selectors": ["shop"],
	          "operations": ["create", "read", "update", "delete", "list"]
	        }
	      ]
	    },
	    {
	      "resource": "shop/jobcard/attachment",
	      "with_companion_file": true
	    }
	  ],
	  "singletons": [
	    {
	      "resource": "shop/formschema"
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

Every declared collection becomes a set of REST routes following the
/shops, /shops/{shop_id}, /shops/{shop_id}/jobcards pattern, with objects
stored as jsonb documents plus optional static and searchable columns.
Objects carry a unique identifier, a timestamp and a revision counter for
optimistic concurrency.

Business logic hooks into the request flow with HandleResourceRequest, and
into the persistence flow with RequestNotifications. Notifications travel
through a transactional outbox table and can be forwarded to Kafka.
*/
package backend
