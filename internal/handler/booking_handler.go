package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/middleware"
	"github.com/staybook/service-booking/pkg/response"
)

// BookingHandler handles HTTP requests of guests for their bookings.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all client booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	clientRole := middleware.RequireRole(auth.RoleClient)

	bookings := r.Group("/bookings")
	bookings.Use(middleware.AuthMiddleware(jwtManager))
	{
		bookings.POST("", clientRole, h.CreateBooking)
		bookings.GET("", clientRole, h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/refund-quote", clientRole, h.QuoteRefund)
		bookings.POST("/:id/cancel", clientRole, h.CancelBooking)
		bookings.POST("/:id/archive", clientRole, h.ArchiveBooking)
	}
}

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateBooking(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	q, ok := listQuery(c)
	if !ok {
		return
	}

	items, total, err := h.service.ListClientBookings(c.Request.Context(), actor, q)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, items, total, q.Page, q.Limit)
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	dto, err := h.service.GetBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// QuoteRefund handles GET /api/v1/bookings/:id/refund-quote
func (h *BookingHandler) QuoteRefund(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	quote, err := h.service.QuoteRefund(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, quote)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}
	req, ok := optionalBody[application.CancelBookingRequest](c)
	if !ok {
		return
	}

	dto, err := h.service.CancelBooking(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// ArchiveBooking handles POST /api/v1/bookings/:id/archive
func (h *BookingHandler) ArchiveBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	dto, err := h.service.ArchiveBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

func actorFrom(c *gin.Context) (application.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return application.Actor{}, false
	}
	role, _ := middleware.GetRole(c)
	return application.Actor{ID: userID, Role: role}, true
}

func pathID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.BadRequest(c, message)
		return uuid.Nil, false
	}
	return id, true
}

// optionalBody binds a JSON body when one was sent.
func optionalBody[T any](c *gin.Context) (T, bool) {
	var req T
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return req, false
	}
	return req, true
}

func listQuery(c *gin.Context) (application.ListBookingsQuery, bool) {
	q := application.ListBookingsQuery{Status: c.Query("status")}

	var err error
	if q.Page, err = strconv.Atoi(c.DefaultQuery("page", "1")); err != nil {
		response.BadRequest(c, "page must be a number")
		return q, false
	}
	if q.Limit, err = strconv.Atoi(c.DefaultQuery("limit", "20")); err != nil {
		response.BadRequest(c, "limit must be a number")
		return q, false
	}
	if v, present := c.GetQuery("archived"); present {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "archived must be true or false")
			return q, false
		}
		q.Archived = &archived
	}
	return q, true
}
