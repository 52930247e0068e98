package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/jobcard/core/form"
	"github.com/relabs-tech/jobcard/core/messaging"
)

func TestRender(t *testing.T) {
	rec := form.Record{
		"customer_name": "Asha",
		"device_model":  "PX-7",
		"repair_cost":   1250.5,
	}
	body := messaging.Render("Hi {{customer_name}}, your {{device_model}} is ready. Total: {{repair_cost}}", rec)
	assert.Equal(t, "Hi Asha, your PX-7 is ready. Total: 1250.5", body)
}

func TestRenderUnknownPlaceholder(t *testing.T) {
	rec := form.Record{"customer_name": "Asha"}
	body := messaging.Render("Hi {{customer_name}}, code {{pickup_code}}.", rec)
	assert.Equal(t, "Hi Asha, code .", body)
}

func TestRenderWhitespaceAndTypes(t *testing.T) {
	rec := form.Record{
		"qty":   float64(2),
		"ready": true,
	}
	assert.Equal(t, "2 true", messaging.Render("{{ qty }} {{ready}}", rec))
}

func TestRenderNoPlaceholders(t *testing.T) {
	assert.Equal(t, "plain text", messaging.Render("plain text", form.Record{}))
}
