package kafka_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/service-booking/pkg/kafka"
)

func TestCloudEvent(t *testing.T) {
	type payload struct {
		BookingID string `json:"booking_id"`
	}

	ce, err := kafka.NewCloudEvent("service-booking", "booking.confirmed", payload{BookingID: "b-1"})
	require.NoError(t, err)
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.NotEmpty(t, ce.ID)

	raw, err := json.Marshal(ce)
	require.NoError(t, err)

	parsed, err := kafka.ParseCloudEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ce.ID, parsed.ID)
	assert.Equal(t, "booking.confirmed", parsed.Type)

	var got payload
	require.NoError(t, parsed.ParseData(&got))
	assert.Equal(t, "b-1", got.BookingID)
}

func TestParseCloudEvent_Invalid(t *testing.T) {
	_, err := kafka.ParseCloudEvent([]byte("{"))
	assert.Error(t, err)

	_, err = kafka.ParseCloudEvent([]byte(`{"specversion":"1.0"}`))
	assert.Error(t, err)
}
