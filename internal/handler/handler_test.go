package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/handler"
	"github.com/staybook/service-booking/internal/repository/memory"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/middleware"
)

const webhookSecret = "whsec_handler"

type api struct {
	router  *gin.Engine
	store   *memory.Store
	gateway *adapter.MockGateway
	room    booking.Room
	client  string
	other   string
	owner   string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt := auth.NewJWTManager("s3cret", time.Hour, time.Hour)
	store := memory.NewStore()
	gateway := adapter.NewMockGateway(zap.NewNop())
	room := booking.Room{ID: uuid.New(), HotelID: uuid.New(), PricePerNightCents: 12000, Places: 2}
	ownerID := uuid.New()
	store.AddRoom(room, ownerID)

	svc := application.NewBookingService(store, store, store, gateway, nil, application.BookingServiceConfig{
		Currency:       "usd",
		Policy:         booking.DefaultPolicy,
		PaymentTimeout: 10 * time.Minute,
		RefundTimeout:  time.Second,
	}, zap.NewNop())
	webhooks := application.NewWebhookProcessor(store, gateway, adapter.NewStripeWebhookVerifier(webhookSecret), nil, nil, zap.NewNop())

	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(zap.NewNop()), middleware.RequestIDMiddleware())
	v1 := r.Group("/api/v1")
	handler.NewBookingHandler(svc).RegisterRoutes(v1, jwt)
	handler.NewOwnerHandler(svc).RegisterRoutes(v1, jwt)
	handler.NewWebhookHandler(webhooks, zap.NewNop()).RegisterRoutes(v1)

	token := func(id uuid.UUID, role auth.Role) string {
		tok, err := jwt.GenerateAccessToken(id, role)
		require.NoError(t, err)
		return tok
	}
	return &api{
		router:  r,
		store:   store,
		gateway: gateway,
		room:    room,
		client:  token(uuid.New(), auth.RoleClient),
		other:   token(uuid.New(), auth.RoleClient),
		owner:   token(ownerID, auth.RoleOwner),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
}

func (a *api) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (a *api) create(t *testing.T, method string) application.CreateBookingResult {
	t.Helper()
	from := booking.Day(time.Now().UTC()).AddDate(0, 0, 10)
	w, env := a.do(t, http.MethodPost, "/api/v1/bookings", a.client, map[string]any{
		"room_id":        a.room.ID,
		"date_start":     from.Format(time.DateOnly),
		"date_end":       from.AddDate(0, 0, 2).Format(time.DateOnly),
		"guests_count":   2,
		"payment_method": method,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res application.CreateBookingResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func decodeBooking(t *testing.T, env envelope) application.BookingDTO {
	t.Helper()
	var dto application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	return dto
}

func TestCardBookingConfirmedByWebhook(t *testing.T) {
	a := newAPI(t)
	res := a.create(t, "card")
	assert.NotEmpty(t, res.CheckoutURL)
	assert.Equal(t, int64(24000), res.Booking.TotalPriceCents)
	assert.Equal(t, "pending_payment", res.Booking.Status)

	intent, err := a.gateway.CompleteCheckout(res.Booking.Payment.CheckoutSessionID)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":     "evt_" + uuid.NewString(),
		"object": "event",
		"type":   adapter.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":                  res.Booking.Payment.CheckoutSessionID,
			"object":              "checkout.session",
			"payment_status":      "paid",
			"amount_total":        intent.AmountReceived,
			"client_reference_id": res.Booking.ID.String(),
			"metadata":            map[string]string{"booking_id": res.Booking.ID.String()},
			"payment_intent":      intent.ID,
		}},
	})
	require.NoError(t, err)

	deliver := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set(adapter.SignatureHeader, signature)
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, deliver("t=1,v1=deadbeef").Code)

	w := deliver(adapter.SignPayload(webhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), application.WebhookProcessed)

	w = deliver(adapter.SignPayload(webhookSecret, payload, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), application.WebhookStale)

	w, env := a.do(t, http.MethodGet, "/api/v1/bookings/"+res.Booking.ID.String(), a.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBooking(t, env)
	assert.Equal(t, "confirmed", got.Status)
	assert.Equal(t, "paid", got.Payment.Status)
}

func TestCashBookingConfirmedByOwner(t *testing.T) {
	a := newAPI(t)
	res := a.create(t, "cash")
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, "awaiting_confirmation", res.Booking.Status)

	path := "/api/v1/owner/bookings/" + res.Booking.ID.String() + "/confirm"

	w, _ := a.do(t, http.MethodPost, path, a.client, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := a.do(t, http.MethodPost, path, a.owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "confirmed", decodeBooking(t, env).Status)

	w, env = a.do(t, http.MethodPost, path, a.owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)

	w, env = a.do(t, http.MethodGet, "/api/v1/owner/hotels/"+a.room.HotelID.String()+"/bookings?status=confirmed", a.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(1), env.Meta.Total)
}

func TestClientCancelAndList(t *testing.T) {
	a := newAPI(t)
	res := a.create(t, "cash")
	id := res.Booking.ID.String()

	w, _ := a.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/cancel", a.other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := a.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/cancel", a.client, map[string]string{"reason": "plans changed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := decodeBooking(t, env)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "plans changed", cancelled.CancelReason)

	w, _ = a.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/archive", a.client, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = a.do(t, http.MethodGet, "/api/v1/bookings?archived=false", a.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), env.Meta.Total)

	w, env = a.do(t, http.MethodGet, "/api/v1/bookings?archived=true", a.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), env.Meta.Total)
}

func TestRequestErrors(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
	}{
		{"no token", http.MethodGet, "/api/v1/bookings", "", nil, http.StatusUnauthorized},
		{"owner cannot book", http.MethodPost, "/api/v1/bookings", a.owner, map[string]string{}, http.StatusForbidden},
		{"malformed booking id", http.MethodGet, "/api/v1/bookings/nope", a.client, nil, http.StatusBadRequest},
		{"unknown booking", http.MethodGet, "/api/v1/bookings/" + uuid.NewString(), a.client, nil, http.StatusNotFound},
		{"bad page", http.MethodGet, "/api/v1/bookings?page=x", a.client, nil, http.StatusBadRequest},
		{"bad archived flag", http.MethodGet, "/api/v1/bookings?archived=maybe", a.client, nil, http.StatusBadRequest},
		{"limit out of range", http.MethodGet, "/api/v1/bookings?limit=500", a.client, nil, http.StatusBadRequest},
		{"invalid payload", http.MethodPost, "/api/v1/bookings", a.client, map[string]any{"room_id": a.room.ID}, http.StatusBadRequest},
		{"refund without amount", http.MethodPost, "/api/v1/owner/bookings/" + uuid.NewString() + "/refund", a.owner, map[string]string{}, http.StatusBadRequest},
		{"no payment account", http.MethodGet, "/api/v1/owner/payment-account", a.owner, nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := a.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, env.Success)
		})
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		check  handler.HealthCheck
		status int
	}{
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"database down", func(context.Context) error { return errors.New("connection refused") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			handler.NewHealthHandler(map[string]handler.HealthCheck{"database": tt.check}).RegisterRoutes(r)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, w.Code)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
