package backend

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/access"
	"github.com/relabs-tech/jobcard/core/backend/kss"
	"github.com/relabs-tech/jobcard/core/client"
	"github.com/relabs-tech/jobcard/core/csql"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

var configurationJSON string = `{
	"collections": [
	  {
		"resource": "shop",
		"external_index": "registration_code",
		"static_properties": ["name"],
		"searchable_properties": ["city"]
	  },
	  {
		"resource": "shop/customer"
	  },
	  {
		"resource": "shop/customer/note"
	  },
	  {
		"resource": "shop/photo",
		"with_companion_file": true
	  },
	  {
		"resource": "interception"
	  },
	  {
		"resource": "with_schema",
		"schema_id": "http://jobcard.example.com/device.json"
	  }
	],
	"singletons": [
	  {
		"resource": "shop/settings",
		"static_properties": ["name"]
	  }
	],
	"shortcuts": [
		{
			"shortcut" : "myshop",
			"target" : "shop",
			"roles" : ["shopowner"]
		}
	]
  }
`

var schemaRefString = `{ "type" : "string" ,
                         "$id" : "http://jobcard.example.com/string.json"}`

var schemaDeviceString = `{ "$id": "http://jobcard.example.com/device.json",
                             "type": "object",
                             "required": [
								"model"
								],
								"properties": {
									"model": {
										"$ref": "http://jobcard.example.com/string.json"
									}
								}
							}`

// TestService holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	backend          *Backend
	client           client.Client
	router           *mux.Router
}

var testService TestService

func asJSON(object interface{}) string {
	j, _ := json.Marshal(object)
	return string(j)
}

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_backend_unit_test_")
	defer db.Close()
	db.ClearSchema()

	kssDir, err := os.MkdirTemp("", "kss")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(kssDir)

	router := mux.NewRouter()
	testService.router = router
	testService.backend = New(&Builder{
		Config:          configurationJSON,
		DB:              db,
		Router:          router,
		PublicURL:       "http://localhost",
		UpdateSchema:    true,
		JSONSchemas:     []string{schemaDeviceString},
		JSONSchemasRefs: []string{schemaRefString},
		KssConfiguration: kss.Configuration{
			DriverType:         kss.DriverTypeLocal,
			LocalConfiguration: &kss.LocalConfiguration{BasePath: kssDir},
		},
		// tests drain the queue synchronously
		TriggerNotifications: func() {},
	})
	testService.client = client.NewWithRouter(router)

	code := m.Run()
	os.Exit(code)
}

type Shop struct {
	ShopID           uuid.UUID `json:"shop_id"`
	RegistrationCode string    `json:"registration_code"`
	Name             string    `json:"name"`
	City             string    `json:"city"`
	Revision         int       `json:"revision"`
	Phone            string    `json:"phone"`
}

func TestCollectionShop(t *testing.T) {
	shopNew := Shop{
		RegistrationCode: "REG-1001",
		Name:             "Main Street Repairs",
		City:             "Hamburg",
		Phone:            "+49 40 1234",
	}

	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &shopNew, &shop)
	if err != nil {
		t.Fatal(err)
	}
	if shop.ShopID == (uuid.UUID{}) {
		t.Fatal("no id")
	}
	if shop.RegistrationCode != shopNew.RegistrationCode ||
		shop.Name != shopNew.Name ||
		shop.City != shopNew.City ||
		shop.Phone != shopNew.Phone {
		t.Fatal("unexpected result:", asJSON(shop), "expected:", asJSON(shopNew))
	}
	assert.Equal(t, 1, shop.Revision)

	shopGet := Shop{}
	_, err = testService.client.RawGet("/shops/"+shop.ShopID.String(), &shopGet)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, shop, shopGet)

	// fast put for the static property
	_, err = testService.client.RawPut("/shops/"+shop.ShopID.String()+"/name/Harbor%20Repairs", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawGet("/shops/"+shop.ShopID.String(), &shopGet)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Harbor Repairs", shopGet.Name)
	assert.Equal(t, 2, shopGet.Revision)

	// the external index is unique
	conflicting := Shop{RegistrationCode: "REG-1001"}
	status, _ := testService.client.RawPost("/shops", &conflicting, nil)
	assert.Equal(t, 409, status)

	// search by searchable property
	var collection []Shop
	_, err = testService.client.RawGet("/shops?filter=city=Hamburg", &collection)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range collection {
		found = found || s.ShopID == shop.ShopID
	}
	assert.True(t, found)

	// search by external index
	collection = nil
	_, err = testService.client.RawGet("/shops?filter=registration_code=REG-1001", &collection)
	if err != nil {
		t.Fatal(err)
	}
	if assert.Len(t, collection, 1) {
		assert.Equal(t, shop.ShopID, collection[0].ShopID)
	}

	_, err = testService.client.RawDelete("/shops/" + shop.ShopID.String())
	if err != nil {
		t.Fatal(err)
	}
	status, _ = testService.client.RawGet("/shops/"+shop.ShopID.String(), nil)
	assert.Equal(t, 404, status)
}

func TestCollectionRevisionConflict(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{City: "Bremen"}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	// an update with the current revision succeeds
	shop.City = "Bremerhaven"
	updated := Shop{}
	_, err = testService.client.RawPut("/shops", &shop, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, updated.Revision)

	// an update with a stale revision returns conflict plus the
	// conflicting object
	shop.City = "Oldenburg"
	conflict := Shop{}
	status, _ := testService.client.RawPut("/shops", &shop, &conflict)
	assert.Equal(t, 409, status)
}

func TestCollectionPatch(t *testing.T) {
	type Customer struct {
		CustomerID uuid.UUID `json:"customer_id"`
		ShopID     uuid.UUID `json:"shop_id"`
		Name       string    `json:"name"`
		Phone      string    `json:"phone"`
	}

	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	customer := Customer{}
	_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/customers",
		&Customer{Name: "Asha", Phone: "0401234567"}, &customer)
	if err != nil {
		t.Fatal(err)
	}

	patched := Customer{}
	_, err = testService.client.RawPatch("/shops/"+shop.ShopID.String()+"/customers/"+customer.CustomerID.String(),
		map[string]string{"phone": "0407654321"}, &patched)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "Asha", patched.Name)
	assert.Equal(t, "0407654321", patched.Phone)

	// a patch on a missing object is not an upsert
	status, _ := testService.client.RawPatch("/shops/"+shop.ShopID.String()+"/customers/"+uuid.New().String(),
		map[string]string{"phone": "1"}, nil)
	assert.Equal(t, 404, status)
}

func TestCollectionPagination(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/customers",
			map[string]string{"name": "customer"}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	var page []map[string]interface{}
	status, header, err := testService.client.RawGetWithHeader(
		"/shops/"+shop.ShopID.String()+"/customers?limit=3&page=2", map[string]string{}, &page)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 200, status)
	assert.Len(t, page, 3)
	assert.Equal(t, "3", header.Get("Pagination-Limit"))
	assert.Equal(t, "10", header.Get("Pagination-Total-Count"))
	assert.Equal(t, "4", header.Get("Pagination-Page-Count"))
	assert.Equal(t, "2", header.Get("Pagination-Current-Page"))
}

func TestEtag(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{City: "Kiel"}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	status, header, err := testService.client.RawGetWithHeader(
		"/shops/"+shop.ShopID.String(), map[string]string{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 200, status)
	etag := header.Get("Etag")
	assert.NotEmpty(t, etag)

	status, _, _ = testService.client.RawGetWithHeader(
		"/shops/"+shop.ShopID.String(), map[string]string{"If-None-Match": etag}, nil)
	assert.Equal(t, 304, status)
}

func TestSingletonSettings(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	type Settings struct {
		ShopID   uuid.UUID `json:"shop_id"`
		Name     string    `json:"name"`
		Currency string    `json:"currency"`
	}

	// singletons conceptually always exist
	settings := Settings{}
	status, err := testService.client.RawPut("/shops/"+shop.ShopID.String()+"/settings",
		&Settings{Name: "frontdesk", Currency: "EUR"}, &settings)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 201, status)
	assert.Equal(t, shop.ShopID, settings.ShopID)
	assert.Equal(t, "EUR", settings.Currency)

	settingsGet := Settings{}
	_, err = testService.client.RawGet("/shops/"+shop.ShopID.String()+"/settings", &settingsGet)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, settings, settingsGet)

	// a singleton of a missing parent is not found
	status, _ = testService.client.RawGet("/shops/"+uuid.New().String()+"/settings", nil)
	assert.Equal(t, 404, status)
}

func TestShortcut(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{City: "Aurich"}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	ownerClient := client.NewWithRouter(testService.router).WithAuthorization(
		&access.Authorization{
			Roles:     []string{"shopowner"},
			Selectors: map[string]string{"shop_id": shop.ShopID.String()},
		})

	myShop := Shop{}
	_, err = ownerClient.RawGet("/myshop", &myShop)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, shop.ShopID, myShop.ShopID)

	// without the role the shortcut is not authorized
	status, _ := testService.client.RawGet("/myshop", nil)
	assert.Equal(t, 401, status)
}

func TestSchemaValidation(t *testing.T) {
	valid := map[string]string{"model": "PX-7"}
	status, err := testService.client.RawPost("/with_schemas", &valid, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 201, status)

	invalid := map[string]int{"model": 42}
	status, _ = testService.client.RawPost("/with_schemas", &invalid, nil)
	assert.Equal(t, 400, status)

	missing := map[string]string{"other": "value"}
	status, _ = testService.client.RawPost("/with_schemas", &missing, nil)
	assert.Equal(t, 400, status)
}

func TestInterceptors(t *testing.T) {
	testService.backend.HandleResourceRequest("interception",
		func(ctx context.Context, request Request, data []byte) ([]byte, error) {
			var object map[string]interface{}
			if err := json.Unmarshal(data, &object); err != nil {
				return nil, err
			}
			object["intercepted"] = true
			return json.Marshal(object)
		}, core.OperationCreate)

	var object map[string]interface{}
	_, err := testService.client.RawPost("/interceptions", map[string]string{"some": "data"}, &object)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, object["intercepted"])
	assert.Equal(t, "data", object["some"])

	// the interceptor's version was persisted
	id := object["interception_id"].(string)
	object = nil
	_, err = testService.client.RawGet("/interceptions/"+id, &object)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, object["intercepted"])
}

func TestNotifications(t *testing.T) {
	var mutex sync.Mutex
	var received []Notification

	testService.backend.RequestNotifications(func(n Notification) error {
		mutex.Lock()
		defer mutex.Unlock()
		received = append(received, n)
		return nil
	}, NotificationRequest{
		Resource:   "shop/customer/note",
		Operations: []core.Operation{core.OperationCreate, core.OperationDelete},
	})

	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}
	var customer map[string]interface{}
	_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/customers",
		map[string]string{"name": "x"}, &customer)
	if err != nil {
		t.Fatal(err)
	}
	notesPath := "/shops/" + shop.ShopID.String() + "/customers/" + customer["customer_id"].(string) + "/notes"
	var note map[string]interface{}
	_, err = testService.client.RawPost(notesPath, map[string]string{"text": "call back"}, &note)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawDelete(notesPath + "/" + note["note_id"].(string))
	if err != nil {
		t.Fatal(err)
	}

	// the harness trigger is a no-op, drain synchronously
	testService.backend.ProcessNotifications()

	mutex.Lock()
	defer mutex.Unlock()
	if assert.Len(t, received, 2) {
		operations := map[core.Operation]Notification{}
		for _, n := range received {
			assert.Equal(t, "shop/customer/note", n.Resource)
			operations[n.Operation] = n
		}
		created, ok := operations[core.OperationCreate]
		assert.True(t, ok)
		_, ok = operations[core.OperationDelete]
		assert.True(t, ok)

		var payload map[string]interface{}
		err = json.Unmarshal(created.Payload, &payload)
		assert.NoError(t, err)
		assert.Equal(t, "call back", payload["text"])
	}
}

func TestCompanionFile(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	var photo map[string]interface{}
	_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/photos",
		map[string]string{"label": "before repair"}, &photo)
	if err != nil {
		t.Fatal(err)
	}
	uploadURL, _ := photo["companion_upload_url"].(string)
	if uploadURL == "" {
		t.Fatal("no companion upload url")
	}

	u, err := url.Parse(uploadURL)
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("not really a jpeg")
	_, err = testService.client.RawPutBlob(u.Path+"?"+u.RawQuery, nil, content, nil)
	if err != nil {
		t.Fatal(err)
	}

	photoID := photo["photo_id"].(string)
	photo = nil
	_, err = testService.client.RawGet("/shops/"+shop.ShopID.String()+"/photos/"+photoID, &photo)
	if err != nil {
		t.Fatal(err)
	}
	downloadURL, _ := photo["companion_download_url"].(string)
	if downloadURL == "" {
		t.Fatal("no companion download url")
	}
	u, err = url.Parse(downloadURL)
	if err != nil {
		t.Fatal(err)
	}
	var blob []byte
	status, _, err := testService.client.RawGetBlobWithHeader(u.Path+"?"+u.RawQuery, nil, &blob)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 200, status)
	assert.Equal(t, content, blob)

	// a tampered signature is rejected
	tampered := strings.Replace(u.Path+"?"+u.RawQuery, "key=", "key=..%2F", 1)
	var ignored []byte
	status, _, _ = testService.client.RawGetBlobWithHeader(tampered, nil, &ignored)
	assert.Equal(t, 401, status)
}

func TestTimestampFiltering(t *testing.T) {
	shop := Shop{}
	_, err := testService.client.RawPost("/shops", &Shop{}, &shop)
	if err != nil {
		t.Fatal(err)
	}

	early := map[string]interface{}{"name": "early", "timestamp": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)}
	late := map[string]interface{}{"name": "late"}
	_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/customers", &early, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = testService.client.RawPost("/shops/"+shop.ShopID.String()+"/customers", &late, nil)
	if err != nil {
		t.Fatal(err)
	}

	var collection []map[string]interface{}
	until := time.Now().Add(-30 * time.Minute).UTC().Format(time.RFC3339)
	_, err = testService.client.RawGet("/shops/"+shop.ShopID.String()+"/customers?until="+url.QueryEscape(until), &collection)
	if err != nil {
		t.Fatal(err)
	}
	if assert.Len(t, collection, 1) {
		assert.Equal(t, "early", collection[0]["name"])
	}
}
