package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/logger"
)

// Notification is a database notification. Receive them
// with RequestNotifications()
type Notification struct {
	Serial       int
	Resource     string
	Operation    core.Operation
	ResourceID   uuid.UUID
	Payload      []byte
	CreatedAt    time.Time
	AttemptsLeft int
}

type txNotification struct {
	tx           *sql.Tx
	notification Notification
}

func (b *Backend) handleNotifications() {
	_, err := b.db.Exec(`CREATE table IF NOT EXISTS ` + b.db.Schema + `."_notification_"
(serial SERIAL,
resource VARCHAR NOT NULL,
operation VARCHAR NOT NULL,
resource_id uuid NOT NULL,
payload JSON NOT NULL,
created_at TIMESTAMP NOT NULL,
attempts_left INTEGER NOT NULL,
PRIMARY KEY(serial)
);`)

	if err != nil {
		panic(err)
	}

	b.notificationsUpdateQuery = `UPDATE ` + b.db.Schema + `."_notification_"
SET attempts_left = attempts_left - 1
WHERE serial = (
SELECT serial
 FROM ` + b.db.Schema + `."_notification_"
 WHERE attempts_left > 0
 ORDER BY attempts_left, serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING serial, resource, operation, resource_id, payload, created_at, attempts_left;
`
	b.notificationsDeleteQuery = `DELETE FROM ` + b.db.Schema + `."_notification_"
WHERE serial = $1 RETURNING serial;`

}

func callWithPanicEnvelope(callback func(Notification) error, notification Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	err = callback(notification)
	return
}

// publishToKafka forwards a notification to the configured broker. The
// resource is used as message key so all events for one resource land in
// the same partition, in order.
func (b *Backend) publishToKafka(ctx context.Context, notification Notification) error {
	envelope := struct {
		Resource   string         `json:"resource"`
		Operation  core.Operation `json:"operation"`
		ResourceID uuid.UUID      `json:"resource_id"`
		Payload    json.RawMessage `json:"payload"`
		CreatedAt  time.Time      `json:"created_at"`
	}{
		Resource:   notification.Resource,
		Operation:  notification.Operation,
		ResourceID: notification.ResourceID,
		Payload:    notification.Payload,
		CreatedAt:  notification.CreatedAt,
	}
	value, err := json.MarshalWithOption(envelope, json.DisableHTMLEscape())
	if err != nil {
		return err
	}
	return b.kafkaWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notification.Resource),
		Value: value,
	})
}

func (b *Backend) pipelineWorker(n int, wg *sync.WaitGroup, jobs chan txNotification, output chan string) {
	defer wg.Done()

	for job := range jobs {
		tx := job.tx
		notification := job.notification

		request := notificationRequestKey(notification.Resource, notification.Operation)

		var err error
		if handler, ok := b.callbacks[request]; ok {
			err = callWithPanicEnvelope(handler.callback, notification)
		}
		if err == nil && b.kafkaWriter != nil {
			err = b.publishToKafka(context.Background(), notification)
		}

		if err != nil {
			output <- "error processing #" + strconv.Itoa(notification.Serial) + " " + request + ": " + err.Error()
			tx.Commit()
			continue
		}

		// notification handled successfully, delete from queue
		var serial int
		err = tx.QueryRow(b.notificationsDeleteQuery, &notification.Serial).Scan(&serial)
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			output <- "error committing #" + strconv.Itoa(serial) + " " + request + ": " + err.Error()
		} else {
			output <- "successfully handled #" + strconv.Itoa(serial) + " " + request
		}
	}
}

// TriggerNotifications triggers pipeline processing by eventually calling ProcessNotifications().
// By default, processing happens in another go-routine, but by injecting another TriggerNotifications
// function it can also happen in its own lambda, triggered by an external queue event.
func (b *Backend) TriggerNotifications() {
	b.triggerNotifications()
}

// ProcessNotifications processes all pending notifications
func (b *Backend) ProcessNotifications() {
	nillog := logger.FromContext(nil)
	nillog.Debugln("process notification pipelines")

	output := make(chan string, 100)
	collect := make(chan []string)

	go func() {
		var collected []string
		for s := range output {
			collected = append(collected, s)
		}
		collect <- collected
	}()

	jobs := make(chan txNotification, 20)
	var wg sync.WaitGroup
	wg.Add(b.pipelineConcurrency)
	for i := 0; i < b.pipelineConcurrency; i++ {
		go b.pipelineWorker(i, &wg, jobs, output)
	}

	for {
		tx, err := b.db.BeginTx(context.Background(), nil)
		if err != nil {
			output <- "failed to begin transaction: " + err.Error()
			break
		}

		var notification Notification
		err = tx.QueryRow(b.notificationsUpdateQuery).Scan(
			&notification.Serial,
			&notification.Resource,
			&notification.Operation,
			&notification.ResourceID,
			&notification.Payload,
			&notification.CreatedAt,
			&notification.AttemptsLeft,
		)

		if err != nil {
			if err != sql.ErrNoRows {
				output <- "failed to retrieve notification: " + err.Error()
			}
			tx.Rollback()
			break
		}
		jobs <- txNotification{tx, notification}
	}
	close(jobs)
	wg.Wait()
	close(output)
	collected := <-collect
	if len(collected) > 0 {
		nillog.Infoln("notification report:\n  ", strings.Join(collected, "\n  "))
	}
}

type notificationHandler struct {
	request  string
	callback func(Notification) error
}

// NotificationRequest represents a notification request
// for a specific resource and a list of database operations
type NotificationRequest struct {
	Resource   string
	Operations []core.Operation
}

// RequestNotifications requests database notifications and installs a handler for it.
//
// There can only be one handler for each unique combination of resource and operation.
//
// If a handler returns an error and the notification still has attempts left, then it will be rescheduled.
// The number of possible attempts is a configuration setting of the backend itself.
//
// The order of notifications is based on the number of attempts left (highest first)
func (b *Backend) RequestNotifications(handler func(Notification) error, requests ...NotificationRequest) {
	nillog := logger.FromContext(nil)
	for _, request := range requests {
		for _, operation := range request.Operations {
			key := notificationRequestKey(request.Resource, operation)
			if _, ok := b.callbacks[key]; ok {
				nillog.Fatalf("notification handler for %s already installed", key)
			}
			nillog.Debugf("install notification handler %s", key)
			b.callbacks[key] = notificationHandler{request: key, callback: handler}
		}
	}
}

func notificationRequestKey(resource string, operation core.Operation) string {
	return string(operation) + " " + resource
}

func (b *Backend) commitWithNotification(ctx context.Context, tx *sql.Tx, resource string, operation core.Operation, resourceID uuid.UUID, payload []byte) error {
	request := notificationRequestKey(resource, operation)

	// only create a notification if somebody consumes it
	_, haveCallback := b.callbacks[request]
	if !haveCallback && b.kafkaWriter == nil {
		return tx.Commit()
	}

	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var serial int
	err := tx.QueryRow("INSERT INTO "+b.db.Schema+".\"_notification_\""+
		"(resource,operation,resource_id,payload,created_at,attempts_left)"+
		"VALUES($1,$2,$3,$4,$5,$6) RETURNING serial;",
		resource,
		operation,
		resourceID,
		payload,
		time.Now().UTC(),
		b.pipelineMaxAttempts,
	).Scan(&serial)

	if err != nil {
		tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err == nil {
		b.TriggerNotifications()
	}
	return err
}
