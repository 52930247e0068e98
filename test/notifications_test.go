// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/jobcard/core"
	"github.com/relabs-tech/jobcard/core/form"
)

type NotificationsTestSuite struct {
	IntegrationTestSuite
}

func TestNotificationsTestSuite(t *testing.T) {
	ts := &NotificationsTestSuite{}
	suite.Run(t, ts)
}

// envelope is the wire format of a notification on the broker
type envelope struct {
	Resource   string          `json:"resource"`
	Operation  core.Operation  `json:"operation"`
	ResourceID uuid.UUID       `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *NotificationsTestSuite) TestJobCardEventsReachBroker() {
	var shop struct {
		ShopID uuid.UUID `json:"shop_id"`
	}
	_, err := s.client.RawPost("/shops", map[string]string{"name": "Docklands Repairs"}, &shop)
	s.Require().NoError(err)

	card := form.Record{
		"customer_name":  "Mona Sahin",
		"customer_phone": "0405551234",
		"items": []form.Record{
			{"item_name": "Laptop", "qty": 1},
		},
	}
	var created form.Record
	_, err = s.client.RawPost("/shops/"+shop.ShopID.String()+"/jobcards", card, &created)
	s.Require().NoError(err)
	jobcardID, err := uuid.Parse(form.String(created["jobcard_id"]))
	s.Require().NoError(err)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       "notifications",
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	// every committed write ends up on the broker, keyed by resource
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var jobcardEvent *envelope
	for jobcardEvent == nil {
		message, err := reader.ReadMessage(ctx)
		s.Require().NoError(err, "no job card event arrived on the broker")

		var ev envelope
		s.Require().NoError(json.Unmarshal(message.Value, &ev))
		s.Require().Equal(ev.Resource, string(message.Key))
		if ev.Resource == "shop/jobcard" && ev.ResourceID == jobcardID {
			jobcardEvent = &ev
		}
	}

	s.Equal(core.OperationCreate, jobcardEvent.Operation)
	var payload form.Record
	s.Require().NoError(json.Unmarshal(jobcardEvent.Payload, &payload))
	s.Equal("Mona Sahin", payload["customer_name"])
	s.Equal(float64(1), payload["job_number"])

	// the outbox row is gone once the event is on the broker
	s.Eventually(func() bool {
		var count int
		err := s.dbConn.QueryRow(`SELECT count(*) FROM ` + s.dbConn.Schema + `."_notification_";`).Scan(&count)
		return err == nil && count == 0
	}, 30*time.Second, 250*time.Millisecond)
}
