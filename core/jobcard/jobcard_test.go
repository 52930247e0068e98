package jobcard

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/jobcard/core/backend"
	"github.com/relabs-tech/jobcard/core/backend/kss"
	"github.com/relabs-tech/jobcard/core/client"
	"github.com/relabs-tech/jobcard/core/csql"
	"github.com/relabs-tech/jobcard/core/form"
	"github.com/relabs-tech/jobcard/core/messaging"

	_ "github.com/lib/pq"
)

// TestService holds the configuration for the test service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	service          *Service
	client           client.Client
	dispatcher       *testDispatcher
}

type testDispatcher struct {
	mutex    sync.Mutex
	messages []messaging.Message
}

func (d *testDispatcher) Send(ctx context.Context, message messaging.Message) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.messages = append(d.messages, message)
	return nil
}

func (d *testDispatcher) sent() []messaging.Message {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]messaging.Message{}, d.messages...)
}

var testService TestService

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_jobcard_unit_test_")
	defer db.Close()
	db.ClearSchema()

	kssDir, err := os.MkdirTemp("", "kss")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(kssDir)

	router := mux.NewRouter()
	b := backend.New(&backend.Builder{
		Config:       ResourceConfiguration,
		JSONSchemas:  JSONSchemas(),
		DB:           db,
		Router:       router,
		PublicURL:    "http://localhost",
		UpdateSchema: true,
		KssConfiguration: kss.Configuration{
			DriverType:         kss.DriverTypeLocal,
			LocalConfiguration: &kss.LocalConfiguration{BasePath: kssDir},
		},
		TriggerNotifications: func() {},
	})
	testService.dispatcher = &testDispatcher{}
	testService.service = New(&Builder{
		Backend:    b,
		Dispatcher: testService.dispatcher,
	})
	testService.client = client.NewWithRouter(router)

	code := m.Run()
	os.Exit(code)
}

func createShop(t *testing.T) uuid.UUID {
	t.Helper()
	var shop struct {
		ShopID uuid.UUID `json:"shop_id"`
	}
	_, err := testService.client.RawPost("/shops", map[string]string{"name": "Test Shop"}, &shop)
	if err != nil {
		t.Fatal(err)
	}
	return shop.ShopID
}

// validCard is a job card that passes validation against the default schema
func validCard() form.Record {
	return form.Record{
		"customer_name":  "Ravi Kumar",
		"customer_phone": "040-123-4567",
		"items": []form.Record{
			{
				"item_name": "Phone",
				"qty":       1,
				"parts": []form.Record{
					{"part_name": "Screen", "qty": 2, "price": 30},
					{"part_name": "Gasket"},
				},
			},
		},
	}
}

type schemaDocument struct {
	ShopID   uuid.UUID    `json:"shop_id"`
	Fields   []form.Field `json:"fields"`
	Revision int          `json:"revision"`
}

func TestFormSchemaDefaults(t *testing.T) {
	shopID := createShop(t)

	// a shop that never saved a schema still has one
	var document schemaDocument
	_, err := testService.client.RawGet("/shops/"+shopID.String()+"/formschema", &document)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, shopID, document.ShopID)
	assert.Equal(t, DefaultFormFields(), document.Fields)
}

func TestFormSchemaEdit(t *testing.T) {
	shopID := createShop(t)

	var document schemaDocument
	_, err := testService.client.RawGet("/shops/"+shopID.String()+"/formschema", &document)
	if err != nil {
		t.Fatal(err)
	}

	// a new field gets its key derived from the name
	document.Fields = append(document.Fields, form.Field{Name: "Serial  Number", Type: form.KindText})
	updated := schemaDocument{}
	_, err = testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, &updated)
	if err != nil {
		t.Fatal(err)
	}
	last := updated.Fields[len(updated.Fields)-1]
	assert.Equal(t, "serial_number", last.Key)

	// renaming a field moves its key along
	updated.Fields[len(updated.Fields)-1].Name = "IMEI"
	again := schemaDocument{}
	_, err = testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &updated, &again)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "imei", again.Fields[len(again.Fields)-1].Key)
}

func TestFormSchemaDuplicateKeys(t *testing.T) {
	shopID := createShop(t)

	var document schemaDocument
	_, err := testService.client.RawGet("/shops/"+shopID.String()+"/formschema", &document)
	if err != nil {
		t.Fatal(err)
	}
	document.Fields = append(document.Fields,
		form.Field{Name: "Warranty", Type: form.KindCheckbox},
		form.Field{Name: " warranty ", Type: form.KindText},
	)
	status, err := testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	assert.Equal(t, 422, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "warranty")
	}
}

func TestFormSchemaMandatoryFieldsProtected(t *testing.T) {
	shopID := createShop(t)

	var document schemaDocument
	_, err := testService.client.RawGet("/shops/"+shopID.String()+"/formschema", &document)
	if err != nil {
		t.Fatal(err)
	}

	var withoutName []form.Field
	for _, f := range document.Fields {
		if f.Key != "customer_name" {
			withoutName = append(withoutName, f)
		}
	}
	document.Fields = withoutName
	status, err := testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	assert.Equal(t, 422, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "customer_name")
	}
}

func TestFormSchemaDocumentValidated(t *testing.T) {
	shopID := createShop(t)

	// a field kind outside the meta-schema's enum never reaches the engine
	document := map[string]interface{}{
		"fields": []map[string]interface{}{
			{"name": "Color", "type": "colour"},
		},
	}
	status, err := testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	assert.Equal(t, 400, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), FormSchemaID)
	}

	// a field without a name is rejected as well
	document = map[string]interface{}{
		"fields": []map[string]interface{}{
			{"type": "text"},
		},
	}
	status, _ = testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	assert.Equal(t, 400, status)

	// option entries need a value
	document = map[string]interface{}{
		"fields": []map[string]interface{}{
			{"name": "Condition", "type": "dropdown", "options": []map[string]interface{}{{"color": "#cc0000"}}},
		},
	}
	status, _ = testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	assert.Equal(t, 400, status)
}

func TestJobCardCreate(t *testing.T) {
	shopID := createShop(t)

	var card form.Record
	status, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), &card)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 201, status)

	// untouched fields carry their schema defaults
	assert.Equal(t, "good", card["condition"])
	assert.Equal(t, "", card["device_model"])
	assert.Equal(t, float64(1), card["job_number"])

	// commit coercions: empty part price becomes 0, empty quantity 1
	items := card.Rows("items")
	if assert.Len(t, items, 1) {
		parts := items[0].Rows("parts")
		if assert.Len(t, parts, 2) {
			assert.Equal(t, float64(1), parts[1]["qty"])
			assert.Equal(t, float64(0), parts[1]["price"])
		}
	}

	// the repair cost is computed on read
	_, hasCost := card["repair_cost"]
	assert.False(t, hasCost)
	read := form.Record{}
	_, err = testService.client.RawGet("/shops/"+shopID.String()+"/jobcards/"+form.String(card["jobcard_id"]), &read)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, float64(60), read["repair_cost"])
}

func TestJobCardValidation(t *testing.T) {
	shopID := createShop(t)

	status, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", form.Record{}, nil)
	assert.Equal(t, 422, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "customer_name")
		assert.Contains(t, err.Error(), "customer_phone")
	}

	// nine digits are not a phone number
	card := validCard()
	card["customer_phone"] = "040-123-456"
	status, err = testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", card, nil)
	assert.Equal(t, 422, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "customer_phone")
	}

	// an item without a quantity is rejected, the error names the row
	card = validCard()
	items := card.Rows("items")
	delete(items[0], "qty")
	status, err = testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", card, nil)
	assert.Equal(t, 422, status)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "items[0].qty")
	}
}

func TestJobNumbers(t *testing.T) {
	shopID := createShop(t)
	otherShopID := createShop(t)

	for i := 1; i <= 3; i++ {
		var card form.Record
		_, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), &card)
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, float64(i), card["job_number"])
	}

	// numbering is per shop
	var card form.Record
	_, err := testService.client.RawPost("/shops/"+otherShopID.String()+"/jobcards", validCard(), &card)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, float64(1), card["job_number"])

	// a full update that omits the number keeps it
	_, err = testService.client.RawGet("/shops/"+otherShopID.String()+"/jobcards/"+form.String(card["jobcard_id"]), &card)
	if err != nil {
		t.Fatal(err)
	}
	delete(card, "job_number")
	card["device_model"] = "PX-7"
	updated := form.Record{}
	_, err = testService.client.RawPut("/shops/"+otherShopID.String()+"/jobcards", &card, &updated)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, float64(1), updated["job_number"])
	assert.Equal(t, "PX-7", updated["device_model"])
}

func TestJobNumberOnUpsertCreate(t *testing.T) {
	shopID := createShop(t)

	// a PUT with a client-chosen id creates the card and still numbers it
	card := validCard()
	card["jobcard_id"] = uuid.New()
	var created form.Record
	status, err := testService.client.RawPut("/shops/"+shopID.String()+"/jobcards", &card, &created)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 201, status)
	assert.Equal(t, float64(1), created["job_number"])

	var read form.Record
	_, err = testService.client.RawGet("/shops/"+shopID.String()+"/jobcards/"+form.String(created["jobcard_id"]), &read)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, float64(1), read["job_number"])
}

func TestJobCardKeepsUnknownKeys(t *testing.T) {
	shopID := createShop(t)

	card := validCard()
	card["legacy_note"] = "imported from the old system"
	created := form.Record{}
	_, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", card, &created)
	if err != nil {
		t.Fatal(err)
	}

	path := "/shops/" + shopID.String() + "/jobcards/" + form.String(created["jobcard_id"])
	read := form.Record{}
	_, err = testService.client.RawGet(path, &read)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "imported from the old system", read["legacy_note"])

	// a full read-modify-write cycle does not lose it either
	read["device_model"] = "PX-7"
	_, err = testService.client.RawPut("/shops/"+shopID.String()+"/jobcards", &read, nil)
	if err != nil {
		t.Fatal(err)
	}
	again := form.Record{}
	_, err = testService.client.RawGet(path, &again)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "imported from the old system", again["legacy_note"])
}

func TestJobCardSchemaDrift(t *testing.T) {
	shopID := createShop(t)

	created := form.Record{}
	_, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), &created)
	if err != nil {
		t.Fatal(err)
	}

	// after the card was stored, the schema grows one field and loses
	// another
	var document schemaDocument
	_, err = testService.client.RawGet("/shops/"+shopID.String()+"/formschema", &document)
	if err != nil {
		t.Fatal(err)
	}
	var fields []form.Field
	for _, f := range document.Fields {
		if f.Key != "device_model" {
			fields = append(fields, f)
		}
	}
	document.Fields = append(fields, form.Field{Name: "Serial Number", Type: form.KindText})
	_, err = testService.client.RawPut("/shops/"+shopID.String()+"/formschema", &document, nil)
	if err != nil {
		t.Fatal(err)
	}

	// reading the stored card against the drifted schema loses nothing:
	// the dropped field's value survives, and no value is synthesized for
	// the new field until the card is edited and saved
	read := form.Record{}
	_, err = testService.client.RawGet("/shops/"+shopID.String()+"/jobcards/"+form.String(created["jobcard_id"]), &read)
	if err != nil {
		t.Fatal(err)
	}
	_, ok := read["device_model"]
	assert.True(t, ok)
	_, ok = read["serial_number"]
	assert.False(t, ok)
	assert.Equal(t, "Ravi Kumar", read["customer_name"])
}

func TestJobCardList(t *testing.T) {
	shopID := createShop(t)

	for i := 0; i < 2; i++ {
		_, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	var cards []form.Record
	_, err := testService.client.RawGet("/shops/"+shopID.String()+"/jobcards", &cards)
	if err != nil {
		t.Fatal(err)
	}
	if assert.Len(t, cards, 2) {
		for _, card := range cards {
			assert.Equal(t, float64(60), card["repair_cost"])
		}
	}
}

func TestMessageRoute(t *testing.T) {
	shopID := createShop(t)

	var template struct {
		TemplateID uuid.UUID `json:"template_id"`
	}
	_, err := testService.client.RawPost("/shops/"+shopID.String()+"/templates",
		map[string]string{"body": "Hello {{customer_name}}, your repair costs {{ repair_cost }}."}, &template)
	if err != nil {
		t.Fatal(err)
	}

	card := form.Record{}
	_, err = testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), &card)
	if err != nil {
		t.Fatal(err)
	}

	path := "/shops/" + shopID.String() + "/jobcards/" + form.String(card["jobcard_id"]) + "/messages"
	var message messaging.Message
	status, err := testService.client.RawPost(path,
		map[string]string{"template_id": template.TemplateID.String()}, &message)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 201, status)
	assert.Equal(t, "040-123-4567", message.Phone)
	assert.Equal(t, "Hello Ravi Kumar, your repair costs 60.", message.Body)

	sent := testService.dispatcher.sent()
	found := false
	for _, m := range sent {
		found = found || m.Body == message.Body
	}
	assert.True(t, found)

	// unknown template
	status, _ = testService.client.RawPost(path,
		map[string]string{"template_id": uuid.New().String()}, nil)
	assert.Equal(t, 404, status)

	// unknown job card
	status, _ = testService.client.RawPost(
		"/shops/"+shopID.String()+"/jobcards/"+uuid.New().String()+"/messages",
		map[string]string{"template_id": template.TemplateID.String()}, nil)
	assert.Equal(t, 404, status)

	// no template id at all
	status, _ = testService.client.RawPost(path, map[string]string{}, nil)
	assert.Equal(t, 400, status)
}

func TestJobCardAttachment(t *testing.T) {
	shopID := createShop(t)

	card := form.Record{}
	_, err := testService.client.RawPost("/shops/"+shopID.String()+"/jobcards", validCard(), &card)
	if err != nil {
		t.Fatal(err)
	}

	var attachment map[string]interface{}
	_, err = testService.client.RawPost(
		"/shops/"+shopID.String()+"/jobcards/"+form.String(card["jobcard_id"])+"/attachments",
		map[string]string{"label": "device front"}, &attachment)
	if err != nil {
		t.Fatal(err)
	}
	uploadURL, _ := attachment["companion_upload_url"].(string)
	if uploadURL == "" {
		t.Fatal("no companion upload url")
	}
	uploadPath := strings.TrimPrefix(uploadURL, "http://localhost")
	_, err = testService.client.RawPutBlob(uploadPath, nil, []byte("jpeg bytes"), nil)
	if err != nil {
		t.Fatal(err)
	}

	read := map[string]interface{}{}
	_, err = testService.client.RawGet(
		"/shops/"+shopID.String()+"/jobcards/"+form.String(card["jobcard_id"])+"/attachments/"+attachment["attachment_id"].(string),
		&read)
	if err != nil {
		t.Fatal(err)
	}
	downloadURL, _ := read["companion_download_url"].(string)
	if downloadURL == "" {
		t.Fatal("no companion download url")
	}
	var blob []byte
	status, _, err := testService.client.RawGetBlobWithHeader(
		strings.TrimPrefix(downloadURL, "http://localhost"), nil, &blob)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 200, status)
	assert.Equal(t, []byte("jpeg bytes"), blob)
}

func TestRegistryJobNumberIsAtomic(t *testing.T) {
	accessor := testService.service.backend.Registry.Accessor("job_number")
	key := uuid.New().String()

	var wg sync.WaitGroup
	numbers := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := accessor.Increment(key)
			assert.NoError(t, err)
			numbers <- n
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for n := range numbers {
		assert.False(t, seen[n])
		seen[n] = true
	}
	assert.Len(t, seen, 20)
}
