package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/relabs-tech/jobcard/core"
)

func TestAuthorizationAdmin(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"admin"},
	}
	resources := []string{"shop", "jobcard"}

	if !auth.IsAuthorized(resources, core.OperationCreate, nil, nil) {
		t.Fatal("admin not authorized")
	}
}

func TestAuthorizationPublic(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"someone"},
	}
	resources := []string{"shop", "jobcard"}
	permits := []Permit{{
		Role:       "public",
		Operations: []core.Operation{core.OperationRead},
	}}

	if auth.IsAuthorized(resources, core.OperationCreate, nil, permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(resources, core.OperationRead, nil, permits) {
		t.Fatal("public not authorized for read")
	}

	// now try without any authorization, this should also work
	auth = nil
	if auth.IsAuthorized(resources, core.OperationCreate, nil, permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(resources, core.OperationRead, nil, permits) {
		t.Fatal("public not authorized for read")
	}
}

func TestAuthorizationEverybody(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"someone"},
	}
	resources := []string{"shop", "jobcard"}
	permits := []Permit{{
		Role:       "everybody",
		Operations: []core.Operation{core.OperationRead},
	}}

	if auth.IsAuthorized(resources, core.OperationCreate, nil, permits) {
		t.Fatal("everybody should not create")
	}
	if !auth.IsAuthorized(resources, core.OperationRead, nil, permits) {
		t.Fatal("everybody not authorized for read")
	}

	// without any authorization, "everybody" does not apply
	auth = nil
	if auth.IsAuthorized(resources, core.OperationRead, nil, permits) {
		t.Fatal("public should not be authorized for read")
	}
}

func TestAuthorizationSelector(t *testing.T) {
	shopID := uuid.New()

	auth := &Authorization{
		Roles: []string{"shopowner"},
		Selectors: map[string]string{
			"shop_id": shopID.String(),
		},
	}

	resources := []string{"shop", "jobcard"}
	permits := []Permit{{
		Role:       "shopowner",
		Operations: []core.Operation{core.OperationRead, core.OperationCreate},
		Selectors:  []string{"shop"},
	}}

	params := map[string]string{
		"shop_id": shopID.String(),
	}

	if auth.IsAuthorized(resources, core.OperationDelete, params, permits) {
		t.Fatal("shop owner should not delete")
	}
	if !auth.IsAuthorized(resources, core.OperationRead, params, permits) {
		t.Fatal("shop owner not authorized for read")
	}

	// another shop's objects are off limits
	otherParams := map[string]string{
		"shop_id": uuid.New().String(),
	}
	if auth.IsAuthorized(resources, core.OperationRead, otherParams, permits) {
		t.Fatal("shop owner authorized for foreign shop")
	}
}
