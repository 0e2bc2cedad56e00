package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/middleware"
	"github.com/staybook/service-booking/pkg/response"
)

// OwnerHandler handles hotel owner HTTP requests for the bookings of their hotels.
type OwnerHandler struct {
	service *application.BookingService
}

// NewOwnerHandler creates a new OwnerHandler.
func NewOwnerHandler(service *application.BookingService) *OwnerHandler {
	return &OwnerHandler{service: service}
}

// RegisterRoutes registers owner routes.
func (h *OwnerHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	ownerRole := middleware.RequireRole(auth.RoleOwner)

	owner := r.Group("/owner")
	owner.Use(authMW, ownerRole)
	{
		owner.GET("/hotels/:hotelId/bookings", h.ListHotelBookings)
		owner.POST("/bookings/:id/confirm", h.ConfirmBooking)
		owner.POST("/bookings/:id/cancel", h.CancelBooking)
		owner.POST("/bookings/:id/refund", h.RefundBooking)
		owner.GET("/bookings/:id/payment-errors", h.ListPaymentErrors)
		owner.GET("/payment-account", h.GetPaymentAccount)
	}
}

// ListHotelBookings handles GET /api/v1/owner/hotels/:hotelId/bookings.
func (h *OwnerHandler) ListHotelBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	hotelID, ok := pathID(c, "hotelId", "invalid hotel ID")
	if !ok {
		return
	}
	q, ok := listQuery(c)
	if !ok {
		return
	}

	items, total, err := h.service.ListHotelBookings(c.Request.Context(), actor, hotelID, q)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, items, total, q.Page, q.Limit)
}

// ConfirmBooking handles POST /api/v1/owner/bookings/:id/confirm.
func (h *OwnerHandler) ConfirmBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	dto, err := h.service.ConfirmCashBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// CancelBooking handles POST /api/v1/owner/bookings/:id/cancel.
func (h *OwnerHandler) CancelBooking(c *gin.Context) {
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

	dto, err := h.service.OwnerCancelBooking(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// RefundBooking handles POST /api/v1/owner/bookings/:id/refund.
func (h *OwnerHandler) RefundBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	var req application.ManualRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dto, err := h.service.ManualRefund(c.Request.Context(), actor, bookingID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto)
}

// ListPaymentErrors handles GET /api/v1/owner/bookings/:id/payment-errors.
func (h *OwnerHandler) ListPaymentErrors(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c, "id", "invalid booking ID")
	if !ok {
		return
	}

	entries, err := h.service.ListPaymentErrors(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, entries)
}

// GetPaymentAccount handles GET /api/v1/owner/payment-account.
func (h *OwnerHandler) GetPaymentAccount(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	status, err := h.service.GetMerchantAccountStatus(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, status)
}
