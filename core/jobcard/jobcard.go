// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package jobcard wires the schema-driven record engine into the generic
REST backend.

The backend stores shops, their form schemas and their job cards as plain
resources; this package installs the domain behavior on top of them:
schema edits are normalized and checked, job-card writes are validated
against the shop's current schema, reads reconcile stored records with
schema drift and carry the computed repair cost, and every created job
card receives a per-shop job number.
*/
package jobcard

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/access"
	"github.com/relabs-tech/jobcard/core/backend"
	"github.com/relabs-tech/jobcard/core/csql"
	"github.com/relabs-tech/jobcard/core/form"
	"github.com/relabs-tech/jobcard/core/logger"
	"github.com/relabs-tech/jobcard/core/messaging"
)

// Builder is a builder helper for the job-card service
type Builder struct {
	// Backend is the resource backend, configured with ResourceConfiguration. Mandatory.
	Backend *backend.Backend
	// Dispatcher delivers rendered customer messages. Defaults to the log dispatcher.
	Dispatcher messaging.Dispatcher
}

// Service is the job-card domain service
type Service struct {
	backend    *backend.Backend
	dispatcher messaging.Dispatcher
}

// New installs the job-card domain logic on the backend
func New(bb *Builder) *Service {
	if bb.Backend == nil {
		panic("Backend is missing")
	}
	dispatcher := bb.Dispatcher
	if dispatcher == nil {
		dispatcher = messaging.LogDispatcher{}
	}
	s := &Service{
		backend:    bb.Backend,
		dispatcher: dispatcher,
	}

	b := s.backend
	b.HandleResourceRequest("shop/formschema", s.interceptFormSchemaWrite,
		core.OperationCreate, core.OperationUpdate)
	b.HandleResourceRequest("shop/formschema", s.interceptFormSchemaRead,
		core.OperationRead)
	b.HandleResourceRequest("shop/jobcard", s.interceptJobCardWrite,
		core.OperationCreate, core.OperationUpdate)
	b.HandleResourceRequest("shop/jobcard", s.interceptJobCardRead,
		core.OperationRead)
	b.HandleResourceRequest("shop/jobcard", s.interceptJobCardList,
		core.OperationList)

	s.handleMessageRoute(b.Router())
	return s
}

// interceptFormSchemaWrite validates a schema edit before it is stored.
// Keys are recomputed from names, so a rename always moves the key along,
// and mandatory fields of the schema in effect must survive the edit.
func (s *Service) interceptFormSchemaWrite(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	var document map[string]interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("invalid form schema document: %s", err)
	}
	fieldsJSON, _ := json.Marshal(document["fields"])
	var fields []form.Field
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("invalid form schema fields: %s", err)
	}

	fields = form.NormalizeKeys(fields)
	if err := form.CheckFields(fields); err != nil {
		return nil, err
	}

	current, err := s.formFields(request.Selectors["shop_id"])
	if err != nil {
		return nil, err
	}
	if err := checkMandatoryFields(current, fields); err != nil {
		return nil, err
	}

	document["fields"] = fields
	return json.MarshalWithOption(document, json.DisableHTMLEscape())
}

// interceptFormSchemaRead serves the default field tree to shops which
// never saved a schema of their own.
func (s *Service) interceptFormSchemaRead(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	var document map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &document); err != nil {
			return nil, err
		}
	}
	if document == nil {
		document = map[string]interface{}{}
	}
	if _, ok := document["fields"]; !ok {
		document["fields"] = DefaultFormFields()
		for key, value := range request.Selectors {
			document[key] = value
		}
	}
	return json.MarshalWithOption(document, json.DisableHTMLEscape())
}

// interceptJobCardWrite runs the engine's commit path: defaults for
// fields the client never touched, commit-time coercions, validation
// against the shop's current schema, and the per-shop job number on
// create. Validation failures surface as a field to message map.
func (s *Service) interceptJobCardWrite(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	fields, err := s.formFields(request.Selectors["shop_id"])
	if err != nil {
		return nil, err
	}

	var rec form.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid job card document: %s", err)
	}

	// fields the client did not submit start from their schema default
	for key, value := range form.Defaults(fields) {
		if _, ok := rec[key]; !ok {
			rec[key] = value
		}
	}

	rec = form.Normalize(fields, rec)
	if errs := form.Validate(fields, rec); !errs.Valid() {
		body, _ := json.MarshalWithOption(errs, json.DisableHTMLEscape())
		return nil, fmt.Errorf("%s", body)
	}

	if request.Operation == core.OperationCreate {
		number, err := s.backend.Registry.Accessor("job_number").Increment(request.Selectors["shop_id"])
		if err != nil {
			return nil, err
		}
		rec["job_number"] = number
	} else if _, ok := rec["job_number"]; !ok {
		// the assigned number survives a full update that omits it
		db := s.backend.DB()
		var properties json.RawMessage
		err := db.QueryRow(
			`SELECT properties FROM `+db.Schema+`."shop/jobcard" WHERE jobcard_id = $1;`,
			request.ResourceID).Scan(&properties)
		if err == nil {
			var stored form.Record
			if json.Unmarshal(properties, &stored) == nil {
				if number, ok := stored["job_number"]; ok {
					rec["job_number"] = number
				}
			}
		}
	}
	delete(rec, "repair_cost") // computed on read, never stored

	return json.MarshalWithOption(rec, json.DisableHTMLEscape())
}

// interceptJobCardRead reconciles a stored record with the current
// schema and attaches the computed repair cost.
func (s *Service) interceptJobCardRead(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	fields, err := s.formFields(request.Selectors["shop_id"])
	if err != nil {
		return nil, err
	}
	var rec form.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec = s.present(fields, rec)
	return json.MarshalWithOption(rec, json.DisableHTMLEscape())
}

func (s *Service) interceptJobCardList(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	fields, err := s.formFields(request.Selectors["shop_id"])
	if err != nil {
		return nil, err
	}
	var recs []form.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	for i, rec := range recs {
		recs[i] = s.present(fields, rec)
	}
	return json.MarshalWithOption(recs, json.DisableHTMLEscape())
}

func (s *Service) present(fields []form.Field, rec form.Record) form.Record {
	out := form.Reconcile(fields, rec)
	out["repair_cost"] = form.TotalRepairCost(fields, out)
	return out
}

// messageRequest is the body of the message route
type messageRequest struct {
	TemplateID string `json:"template_id"`
}

// handleMessageRoute adds the route rendering a message template against
// a job card and handing the result to the dispatcher.
func (s *Service) handleMessageRoute(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("  handle message route: /shops/{shop_id}/jobcards/{jobcard_id}/messages POST")

	router.HandleFunc("/shops/{shop_id}/jobcards/{jobcard_id}/messages",
		func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			s.sendMessageWithAuth(w, r)
		}).Methods(http.MethodOptions, http.MethodPost)
}

func (s *Service) sendMessageWithAuth(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	params := mux.Vars(r)
	shopID := params["shop_id"]
	jobcardID := params["jobcard_id"]

	if s.backend.AuthorizationEnabled() {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole("admin") {
			id, ok := auth.Selector("shop_id")
			if !auth.HasRole("shopowner") || !ok || id != shopID {
				http.Error(w, "not authorized", http.StatusUnauthorized)
				return
			}
		}
	}

	var request messageRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return
	}
	if request.TemplateID == "" {
		http.Error(w, "missing template_id", http.StatusBadRequest)
		return
	}

	db := s.backend.DB()
	var templateProperties json.RawMessage
	err := db.QueryRow(
		`SELECT properties FROM `+db.Schema+`."shop/template" WHERE template_id = $1 AND shop_id = $2;`,
		request.TemplateID, shopID).Scan(&templateProperties)
	if err == csql.ErrNoRows {
		http.Error(w, "no such template", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 6301: read template")
		http.Error(w, "Error 6301", http.StatusInternalServerError)
		return
	}
	var template struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(templateProperties, &template); err != nil || strings.TrimSpace(template.Body) == "" {
		http.Error(w, "template has no body", http.StatusUnprocessableEntity)
		return
	}

	var jobcardProperties json.RawMessage
	err = db.QueryRow(
		`SELECT properties FROM `+db.Schema+`."shop/jobcard" WHERE jobcard_id = $1 AND shop_id = $2;`,
		jobcardID, shopID).Scan(&jobcardProperties)
	if err == csql.ErrNoRows {
		http.Error(w, "no such jobcard", http.StatusNotFound)
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 6302: read jobcard")
		http.Error(w, "Error 6302", http.StatusInternalServerError)
		return
	}
	var rec form.Record
	if err := json.Unmarshal(jobcardProperties, &rec); err != nil {
		rlog.WithError(err).Errorf("Error 6303: unmarshal jobcard")
		http.Error(w, "Error 6303", http.StatusInternalServerError)
		return
	}
	fields, err := s.formFields(shopID)
	if err != nil {
		rlog.WithError(err).Errorf("Error 6304: read form schema")
		http.Error(w, "Error 6304", http.StatusInternalServerError)
		return
	}
	rec = s.present(fields, rec)

	message := messaging.Message{
		Phone: form.String(rec["customer_phone"]),
		Body:  messaging.Render(template.Body, rec),
	}
	if message.Phone == "" {
		http.Error(w, "jobcard has no customer phone", http.StatusUnprocessableEntity)
		return
	}
	if err := s.dispatcher.Send(r.Context(), message); err != nil {
		rlog.WithError(err).Errorf("Error 6305: dispatch message")
		http.Error(w, "Error 6305", http.StatusInternalServerError)
		return
	}

	jsonData, _ := json.MarshalWithOption(message, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	w.Write(jsonData)
}
