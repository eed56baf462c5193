package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/service/reservation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service reservation.ReservationUseCase
	logger  *zap.Logger
}

type createBookingRequest struct {
	RequesterID      string `json:"requester_id"`
	RoomID           string `json:"room_id"`
	CheckIn          string `json:"check_in"`
	CheckOut         string `json:"check_out"`
	GuestCount       int    `json:"guest_count"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	PaymentMethodRef string `json:"payment_method_ref"`
}

type confirmBookingRequest struct {
	PaymentRef string `json:"payment_ref"`
}

type bookingResponse struct {
	ID            string `json:"id"`
	RoomID        string `json:"room_id"`
	RequesterID   string `json:"requester_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	Nights        int    `json:"nights"`
	GuestCount    int    `json:"guest_count"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type createBookingResponse struct {
	Booking      bookingResponse `json:"booking"`
	ClientSecret string          `json:"client_secret,omitempty"`
}

type listBookingsResponse struct {
	Bookings []bookingResponse `json:"bookings"`
}

func NewBookingHandler(service reservation.ReservationUseCase, logger *zap.Logger) *BookingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingHandler{service: service, logger: logger}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/bookings", h.create)
	router.POST("/bookings/confirm", h.confirm)
	router.GET("/bookings", h.listActive)
	router.GET("/bookings/:id", h.get)
	router.DELETE("/bookings/:id", h.cancel)
	router.GET("/users/:userId/bookings", h.listByRequester)
	router.GET("/rooms/:roomId/bookings", h.listByRoom)
	router.GET("/stats/overview", h.stats)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	iv, err := domain.ParseInterval(req.CheckIn, req.CheckOut)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	res, err := h.service.CreateReservation(c.Request.Context(), reservation.CreateReservationInput{
		RequesterID:      req.RequesterID,
		RoomID:           req.RoomID,
		CheckIn:          iv.CheckIn,
		CheckOut:         iv.CheckOut,
		GuestCount:       req.GuestCount,
		AmountCents:      req.AmountCents,
		Currency:         req.Currency,
		PaymentMethodRef: req.PaymentMethodRef,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, createBookingResponse{
		Booking:      toBookingResponse(res.Booking),
		ClientSecret: res.ClientSecret,
	})
}

func (h *BookingHandler) confirm(c *gin.Context) {
	var req confirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	booking, err := h.service.ConfirmReservation(c.Request.Context(), req.PaymentRef)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) get(c *gin.Context) {
	booking, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	booking, err := h.service.CancelReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) listActive(c *gin.Context) {
	bookings, err := h.service.ListActiveBookings(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListResponse(bookings))
}

func (h *BookingHandler) listByRequester(c *gin.Context) {
	bookings, err := h.service.ListRequesterBookings(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListResponse(bookings))
}

func (h *BookingHandler) listByRoom(c *gin.Context) {
	bookings, err := h.service.ListRoomBookings(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toListResponse(bookings))
}

func (h *BookingHandler) stats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		RoomID:        b.RoomID,
		RequesterID:   b.RequesterID,
		CheckIn:       b.Interval.CheckIn.Format(domain.DateLayout),
		CheckOut:      b.Interval.CheckOut.Format(domain.DateLayout),
		Nights:        b.Interval.Nights(),
		GuestCount:    b.GuestCount,
		AmountCents:   b.AmountCents,
		Currency:      b.Currency,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentRef:    b.PaymentRef,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.Format(time.RFC3339),
	}
}

func toListResponse(bookings []domain.Booking) listBookingsResponse {
	resp := listBookingsResponse{Bookings: make([]bookingResponse, 0, len(bookings))}
	for i := range bookings {
		resp.Bookings = append(resp.Bookings, toBookingResponse(&bookings[i]))
	}
	return resp
}
