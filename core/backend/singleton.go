// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/gorilla/mux"
)

// singletons are collections with a cardinality of one per owner. They share
// the entire request machinery with collections, addressed either through
// their canonical single route or through the generic collection routes.
func (b *Backend) createSingletonResource(router *mux.Router, sc singletonConfiguration) {
	rc := collectionConfiguration{
		Resource:             sc.Resource,
		Permits:              sc.Permits,
		Description:          sc.Description,
		SchemaID:             sc.SchemaID,
		StaticProperties:     sc.StaticProperties,
		SearchableProperties: sc.SearchableProperties,
		Default:              sc.Default,
	}
	b.createCollectionResource(router, rc, true)
}
