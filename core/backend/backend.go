// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/access"
	"github.com/relabs-tech/jobcard/core/backend/kss"
	"github.com/relabs-tech/jobcard/core/client"
	"github.com/relabs-tech/jobcard/core/csql"
	"github.com/relabs-tech/jobcard/core/logger"
	"github.com/relabs-tech/jobcard/core/registry"
	"github.com/relabs-tech/jobcard/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	config               Configuration
	db                   *csql.DB
	router               *mux.Router
	publicURL            string
	collectionFunctions  map[string]*collectionFunctions
	callbacks            map[string]notificationHandler
	interceptors         map[string]requestHandler
	authorizationEnabled bool
	updateSchema         bool
	jsonValidator        *schema.Validator

	// Registry is the JSON object registry for this backend's schema
	Registry registry.Registry

	// KssDriver is the key-value store for companion files, if configured
	KssDriver kss.Driver

	kafkaWriter *kafka.Writer

	collectionsAndSingletons map[string]bool // resource -> isSingleton

	pipelineConcurrency      int
	pipelineMaxAttempts      int
	triggerNotifications     func()
	notificationsUpdateQuery string
	notificationsDeleteQuery string

	metrics *metrics
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// PublicURL is the URL this backend is reachable at. It is used for
	// the local companion file driver to generate signed URLs.
	PublicURL string
	// JSONSchemas contains JSON schemas to validate resource documents.
	// Resources reference them through their schema_id.
	JSONSchemas []string
	// JSONSchemasRefs contains additional schemas which can be referenced
	// by the schemas in JSONSchemas.
	JSONSchemasRefs []string
	// AuthorizationEnabled enables role based access control.
	AuthorizationEnabled bool
	// UpdateSchema creates or updates the database schema on startup.
	UpdateSchema bool
	// KssConfiguration configures the storage for companion files.
	KssConfiguration kss.Configuration
	// KafkaBrokers is the list of brokers for the notification outbox. If
	// empty, notifications are only delivered to in-process handlers.
	KafkaBrokers []string
	// KafkaTopic is the topic notifications are published to. Defaults
	// to "notifications".
	KafkaTopic string
	// PipelineConcurrency is the number of parallel notification workers. Defaults to 5.
	PipelineConcurrency int
	// PipelineMaxAttempts is the number of delivery attempts per notification. Defaults to 3.
	PipelineMaxAttempts int
	// TriggerNotifications overrides how pending notifications get processed. By
	// default processing happens in a separate go-routine of this process.
	TriggerNotifications func()
}

// New realizes the actual backend. It creates the sql tables (if they
// do not exist) and adds the REST routes to the router.
func New(bb *Builder) *Backend {

	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}

	if bb.DB == nil {
		panic("DB is missing")
	}

	if bb.Router == nil {
		panic("Router is missing")
	}

	jsonValidator, err := schema.NewValidator(bb.JSONSchemas, bb.JSONSchemasRefs)
	if err != nil {
		panic(fmt.Errorf("cannot create JSON validator: %s", err))
	}

	pipelineConcurrency := bb.PipelineConcurrency
	if pipelineConcurrency == 0 {
		pipelineConcurrency = 5
	}
	pipelineMaxAttempts := bb.PipelineMaxAttempts
	if pipelineMaxAttempts == 0 {
		pipelineMaxAttempts = 3
	}

	b := &Backend{
		config:                   config,
		db:                       bb.DB,
		router:                   bb.Router,
		publicURL:                bb.PublicURL,
		collectionFunctions:      make(map[string]*collectionFunctions),
		callbacks:                make(map[string]notificationHandler),
		interceptors:             make(map[string]requestHandler),
		authorizationEnabled:     bb.AuthorizationEnabled,
		updateSchema:             bb.UpdateSchema,
		jsonValidator:            jsonValidator,
		Registry:                 registry.New(bb.DB),
		collectionsAndSingletons: make(map[string]bool),
		pipelineConcurrency:      pipelineConcurrency,
		pipelineMaxAttempts:      pipelineMaxAttempts,
		metrics:                  newMetrics(),
	}

	if len(bb.KafkaBrokers) > 0 {
		topic := bb.KafkaTopic
		if topic == "" {
			topic = "notifications"
		}
		b.kafkaWriter = &kafka.Writer{
			Addr:     kafka.TCP(bb.KafkaBrokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		}
	}

	if bb.TriggerNotifications != nil {
		b.triggerNotifications = bb.TriggerNotifications
	} else {
		b.triggerNotifications = func() { go b.ProcessNotifications() }
	}

	if err := b.configureKSS(bb.KssConfiguration); err != nil {
		panic(fmt.Errorf("cannot configure key-value store: %s", err))
	}

	b.handleCORS()
	b.handleMetrics(b.router)
	access.HandleAuthorizationRoute(b.router)
	b.handleNotifications()
	b.handleRoutes(b.router)
	b.handleVersion(b.router)
	return b
}

// Router returns the mux router this backend operates on
func (b *Backend) Router() *mux.Router {
	return b.router
}

// DB returns the database this backend operates on
func (b *Backend) DB() *csql.DB {
	return b.db
}

// Config returns the parsed configuration
func (b *Backend) Config() Configuration {
	return b.config
}

// AuthorizationEnabled returns whether role based access control is active
func (b *Backend) AuthorizationEnabled() bool {
	return b.authorizationEnabled
}

func (b *Backend) hasCollectionOrSingleton(resource string) bool {
	_, ok := b.collectionsAndSingletons[resource]
	return ok
}

type anyResourceConfiguration struct {
	resource   string
	collection *collectionConfiguration
	singleton  *singletonConfiguration
}

type byDepth []anyResourceConfiguration

func (r byDepth) Len() int {
	return len(r)
}
func (r byDepth) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}
func (r byDepth) Less(i, j int) bool {
	return strings.Count(r[i].resource, "/") < strings.Count(r[j].resource, "/")
}

// handleRoutes adds all necessary handlers for the specified configuration
func (b *Backend) handleRoutes(router *mux.Router) {

	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: handle routes")

	// we combine all types of resources into one list and sort them by depth. Rationale:
	// dependencies of resources must be created first, otherwise we cannot enforce those
	// dependencies via sql foreign keys
	allResources := []anyResourceConfiguration{}
	for i := range b.config.Collections {
		rc := &b.config.Collections[i]
		allResources = append(allResources, anyResourceConfiguration{resource: rc.Resource, collection: rc})
		b.collectionsAndSingletons[rc.Resource] = false
	}

	for i := range b.config.Singletons {
		rc := &b.config.Singletons[i]
		allResources = append(allResources, anyResourceConfiguration{resource: rc.Resource, singleton: rc})
		b.collectionsAndSingletons[rc.Resource] = true
	}
	sort.Sort(byDepth(allResources))

	for _, rc := range allResources {
		if rc.collection != nil {
			b.createCollectionResource(router, *rc.collection, false)
		}
		if rc.singleton != nil {
			b.createSingletonResource(router, *rc.singleton)
		}
	}

	for _, sc := range b.config.Shortcuts {
		b.createShortcut(router, sc)
	}
}

// createShortcut creates an authenticated shortcut route. The shortcut replaces
// the resource identifiers in the target path with the selectors from the
// requestor's authorization.
func (b *Backend) createShortcut(router *mux.Router, sc shortcutConfiguration) {
	shortcut := sc.Shortcut
	target := sc.Target

	nillog := logger.FromContext(nil)

	targetResources := strings.Split(target, "/")
	prefix := "/" + shortcut
	var targetDoc string
	for _, s := range targetResources {
		targetDoc += "/" + core.Plural(s) + "/{" + s + "_id}"
	}
	nillog.Debugln("create shortcut from", shortcut, "to", targetDoc)
	nillog.Debugln("  handle shortcut routes: "+prefix+"[/...]", "GET,POST,PUT,PATCH,DELETE")

	replaceHandler := func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		authorized := auth.HasRole("admin")
		for _, role := range sc.Roles {
			authorized = authorized || auth.HasRole(role)
		}
		if !authorized {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		newPrefix := ""
		for _, s := range targetResources {
			id, ok := auth.Selector(s + "_id")
			if !ok {
				http.Error(w, fmt.Sprintf("selector %s_id not available", s), http.StatusBadRequest)
				return
			}
			newPrefix += "/" + core.Plural(s) + "/" + id
		}

		r.URL.Path = newPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		logger.FromContext(r.Context()).Infoln("redirect shortcut to", r.URL.Path)
		router.ServeHTTP(w, r)
	}
	router.PathPrefix(prefix).HandlerFunc(replaceHandler)
}

type relationInjection struct {
	subquery        string
	columns         []string
	queryParameters []interface{}
}

type collectionFunctions struct {
	permits []access.Permit
	list    func(w http.ResponseWriter, r *http.Request, relation *relationInjection)
	read    func(w http.ResponseWriter, r *http.Request, relation *relationInjection)
}

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + strconv.Itoa(i+1)
	}
	return result
}

// returns s[0]=$1 AND ... AND s[n-1]=$n
func compareIDsString(s []string) string {
	result := ""
	i := 0
	for ; i < len(s); i++ {
		if i > 0 {
			result += " AND "
		}
		result += s[i] + " = $" + strconv.Itoa(i+1)
	}
	return result
}

// returns s[0]=$(offset+1) AND ... AND s[n-1]=$(offset+n)
func compareIDsStringWithOffset(offset int, s []string) string {
	result := ""
	i := 0
	for ; i < len(s); i++ {
		if i > 0 {
			result += " AND "
		}
		result += s[i] + " = $" + strconv.Itoa(i+offset+1)
	}
	return result
}

func (b *Backend) addChildrenToGetResponse(children []string, noIntercept bool, r *http.Request, response map[string]interface{}) (int, error) {
	var all []string
	for _, child := range children {
		all = append(all, strings.Split(child, ",")...)
	}
	c := client.NewWithRouter(b.router).WithContext(r.Context())
	for _, child := range all {
		if strings.ContainsRune(child, '/') {
			return http.StatusBadRequest, fmt.Errorf("invalid child %s", child)
		}
		path := r.URL.Path + "/" + child
		if noIntercept {
			path += "?nointercept=true"
		}
		var childJSON interface{}
		status, err := c.RawGet(path, &childJSON)
		if err != nil && status != http.StatusNoContent {
			return status, err
		}
		response[child] = &childJSON
	}
	return http.StatusOK, nil
}
