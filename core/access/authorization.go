/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context keys
const (
	contextKeyAuthorization contextKey = "_authorization_"
	contextKeyIdentity      contextKey = "_identity_"
)

/*Authorization is a context object which stores authorization information
for the user who is currently logged in.

An authorization carries a list of roles and selectors corresponding to
resources in the backend configuration. For this service the important
selector is "shop_id": a shop owner's authorization carries the id of
their own shop, and the permits in the backend configuration restrict
all operations to that shop.

Authorizations are added to a request context with

	ctx = ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := AuthorizationFromContext(ctx)

Authorization objects are added to the context by middleware, based on
the bearer token of the HTTP request.
*/
type Authorization struct {
	Roles      []string          `json:"roles"`
	Selectors  map[string]string `json:"selectors,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Permit gives a role the right to execute operations on a resource.
// If the permit carries selectors, then the authorization must carry
// matching identifiers for those selectors, and the operations are only
// permitted on the so-selected objects.
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
	Selectors  []string         `json:"selectors,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil || a.Roles == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Selector returns the value for the requested selector; if the
// selector does not exist, it returns an empty string and false.
func (a *Authorization) Selector(key string) (string, bool) {
	if a == nil || a.Selectors == nil {
		return "", false
	}
	value, ok := a.Selectors[key]
	return value, ok
}

// Property returns the value for the requested property; if the
// property does not exist, it returns an empty string and false.
func (a *Authorization) Property(name string) (string, bool) {
	if a == nil || a.Properties == nil {
		return "", false
	}
	value, ok := a.Properties[name]
	return value, ok
}

// IsAuthorized returns true if the authorization is authorized for the
// requested resource chain and operation according to the passed permits.
//
// There are three special roles: "admin" is always authorized. "public"
// permits apply to any request, authorized or not. "everybody" permits
// apply to any authenticated request.
//
// A permit with selectors only matches if the authorization carries an
// identifier for each selector and that identifier equals the one in the
// request params.
func (a *Authorization) IsAuthorized(resources []string, operation core.Operation,
	params map[string]string, permits []Permit) bool {

	if a.HasRole("admin") {
		return true
	}

	for _, permit := range permits {
		applies := permit.Role == "public" ||
			(permit.Role == "everybody" && a != nil && len(a.Roles) > 0) ||
			a.HasRole(permit.Role)
		if !applies {
			continue
		}
		var hasOperation bool
		for _, o := range permit.Operations {
			if o == operation {
				hasOperation = true
				break
			}
		}
		if !hasOperation {
			continue
		}
		qualified := true
		for _, selector := range permit.Selectors {
			id, ok := a.Selector(selector + "_id")
			param, okParam := params[selector+"_id"]
			qualified = qualified && ok && okParam && id == param
		}
		if qualified {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with the authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// jwt middleware to cache authorization objects for bearer tokens.
// The purpose of the cache is to reduce the number of database queries, without
// the cache the middleware would have to lookup the authorization for every single
// request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// Token should be the temporary token the authorization was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// Token should be the temporary token it was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for the provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("authorization")
	nillog.Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
