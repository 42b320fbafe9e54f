package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/database"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/metrics"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/services/event"
)

type Service struct {
	db   *gorm.DB
	auth *auth.Authenticator
	tr   *i18n.Translator
}

func NewService(db *gorm.DB, authenticator *auth.Authenticator, tr *i18n.Translator) *Service {
	return &Service{
		db:   db,
		auth: authenticator,
		tr:   tr,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.Use(s.auth.RequireAuth())
	{
		api.POST("/events/:id/book/", s.BookEvent)
		api.GET("/user/bookings/", s.UserBookings)
		api.POST("/user/bookings/:id/cancel/", s.CancelBooking)
		api.GET("/organizer/revenue/", s.OrganizerRevenue)
	}
}

// View is the JSON shape of a booking.
type View struct {
	ID          uint        `json:"id"`
	EventID     uint        `json:"event_id"`
	EventName   string      `json:"event_name"`
	Amount      string      `json:"amount"`
	Status      string      `json:"status"`
	BookingDate time.Time   `json:"booking_date"`
	Event       *event.View `json:"event,omitempty"`
}

func (s *Service) present(ctx context.Context, bookings []models.Booking) ([]View, error) {
	events := make([]models.Event, len(bookings))
	for i, b := range bookings {
		events[i] = b.Event
	}
	eventViews, err := event.Present(ctx, s.db, events)
	if err != nil {
		return nil, err
	}

	views := make([]View, len(bookings))
	for i, b := range bookings {
		ev := eventViews[i]
		views[i] = View{
			ID:          b.ID,
			EventID:     b.EventID,
			EventName:   b.Event.Name,
			Amount:      b.Amount.StringFixed(2),
			Status:      string(b.Status),
			BookingDate: b.BookingDate.UTC(),
			Event:       &ev,
		}
	}
	return views, nil
}

func (s *Service) load(ctx context.Context, id uint) (models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).Preload("Event").Preload("Event.Organiser").First(&booking, id).Error
	return booking, err
}

// Book creates a confirmed booking of eventID for userID at the event's
// current ticket price. The unique (event, attendee) index guarantees a
// single booking per pair even under concurrent requests.
func (s *Service) Book(ctx context.Context, userID, eventID uint) (View, error) {
	var ev models.Event
	err := s.db.WithContext(ctx).First(&ev, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, apierr.NewNotFound(s.tr.Msg("EventNotFound"))
	}
	if err != nil {
		return View{}, fmt.Errorf("failed to fetch event %d: %w", eventID, err)
	}

	booking := models.Booking{
		EventID:     eventID,
		AttendeeID:  userID,
		Amount:      ev.TicketPrice,
		Status:      models.BookingConfirmed,
		BookingDate: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&booking).Error; err != nil {
		if database.IsDuplicate(err) || s.exists(ctx, userID, eventID) {
			return View{}, apierr.NewConflict(s.tr.Msg("AlreadyBooked"))
		}
		return View{}, fmt.Errorf("failed to create booking: %w", err)
	}
	metrics.BookingsCreated.Inc()

	booking, err = s.load(ctx, booking.ID)
	if err != nil {
		return View{}, fmt.Errorf("failed to reload booking: %w", err)
	}
	views, err := s.present(ctx, []models.Booking{booking})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

// exists covers drivers whose unique violations gorm does not translate.
func (s *Service) exists(ctx context.Context, userID, eventID uint) bool {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("event_id = ? AND attendee_id = ?", eventID, userID).
		Count(&count).Error
	return err == nil && count > 0
}

// ForUser returns userID's bookings, most recent first.
func (s *Service) ForUser(ctx context.Context, userID uint) ([]View, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Preload("Event").Preload("Event.Organiser").
		Where("attendee_id = ?", userID).
		Order("booking_date DESC").Order("id DESC").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings of user %d: %w", userID, err)
	}
	return s.present(ctx, bookings)
}

// Cancel moves one of userID's bookings to cancelled. Bookings of other
// users are reported as missing.
func (s *Service) Cancel(ctx context.Context, userID, bookingID uint) (View, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		err := tx.Where("id = ? AND attendee_id = ?", bookingID, userID).First(&booking).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NewNotFound(s.tr.Msg("BookingNotFound"))
		}
		if err != nil {
			return fmt.Errorf("failed to fetch booking %d: %w", bookingID, err)
		}

		if !booking.Status.CanTransitionTo(models.BookingCancelled) {
			return apierr.NewConflict(s.tr.Msg("BookingNotCancellable", map[string]any{"Status": booking.Status}))
		}

		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", booking.ID, booking.Status).
			Update("status", models.BookingCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel booking %d: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apierr.NewConflict(s.tr.Msg("BookingNotCancellable", map[string]any{"Status": models.BookingCancelled}))
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	metrics.BookingsCancelled.Inc()

	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return View{}, fmt.Errorf("failed to reload booking: %w", err)
	}
	views, err := s.present(ctx, []models.Booking{booking})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

type EventRevenue struct {
	EventID           uint   `json:"event_id"`
	EventName         string `json:"event_name"`
	TicketPrice       string `json:"ticket_price"`
	ConfirmedBookings int    `json:"confirmed_bookings"`
	Revenue           string `json:"revenue"`
}

type Revenue struct {
	TotalRevenue  string         `json:"total_revenue"`
	TotalBookings int            `json:"total_bookings"`
	Events        []EventRevenue `json:"events"`
}

// RevenueFor sums the confirmed bookings of every event organised by
// organiserID. Amounts are the prices captured at booking time.
func (s *Service) RevenueFor(ctx context.Context, organiserID uint) (Revenue, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("organiser_id = ?", organiserID).
		Order("date_time ASC").Order("id ASC").
		Find(&events).Error
	if err != nil {
		return Revenue{}, fmt.Errorf("failed to list events of organiser %d: %w", organiserID, err)
	}

	ids := make([]uint, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}

	var bookings []models.Booking
	if len(ids) > 0 {
		err = s.db.WithContext(ctx).
			Where("event_id IN ? AND status = ?", ids, models.BookingConfirmed).
			Find(&bookings).Error
		if err != nil {
			return Revenue{}, fmt.Errorf("failed to list bookings: %w", err)
		}
	}

	type tally struct {
		count int
		sum   decimal.Decimal
	}
	tallies := make(map[uint]*tally, len(events))
	for _, e := range events {
		tallies[e.ID] = &tally{sum: decimal.Zero}
	}
	for _, b := range bookings {
		t := tallies[b.EventID]
		t.count++
		t.sum = t.sum.Add(b.Amount)
	}

	result := Revenue{Events: make([]EventRevenue, 0, len(events))}
	total := decimal.Zero
	for _, e := range events {
		t := tallies[e.ID]
		total = total.Add(t.sum)
		result.TotalBookings += t.count
		result.Events = append(result.Events, EventRevenue{
			EventID:           e.ID,
			EventName:         e.Name,
			TicketPrice:       e.TicketPrice.StringFixed(2),
			ConfirmedBookings: t.count,
			Revenue:           t.sum.StringFixed(2),
		})
	}
	result.TotalRevenue = total.StringFixed(2)
	return result, nil
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (s *Service) BookEvent(c *gin.Context) {
	identity := auth.MustIdentity(c)

	eventID, ok := event.ParseID(c.Param("id"))
	if !ok {
		apierr.Respond(c, apierr.NewNotFound(s.tr.Msg("EventNotFound")))
		return
	}

	view, err := s.Book(c.Request.Context(), identity.ID, eventID)
	if err != nil {
		if apierr.KindOf(err) == apierr.Conflict {
			log.Printf("Duplicate booking attempt - Event ID: %d, User: %s", eventID, identity.Username)
		}
		apierr.Respond(c, err)
		return
	}

	log.Printf("Event booked - Event ID: %d, User: %s, Amount: %s", eventID, identity.Username, view.Amount)
	c.JSON(http.StatusCreated, gin.H{
		"message": s.tr.Msg("EventBooked"),
		"booking": view,
	})
}

func (s *Service) UserBookings(c *gin.Context) {
	identity := auth.MustIdentity(c)

	views, err := s.ForUser(c.Request.Context(), identity.ID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(views),
		"bookings": views,
	})
}

func (s *Service) CancelBooking(c *gin.Context) {
	identity := auth.MustIdentity(c)

	bookingID, ok := parseID(c.Param("id"))
	if !ok {
		apierr.Respond(c, apierr.NewNotFound(s.tr.Msg("BookingNotFound")))
		return
	}

	view, err := s.Cancel(c.Request.Context(), identity.ID, bookingID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": s.tr.Msg("BookingCancelled"),
		"booking": view,
	})
}

func (s *Service) OrganizerRevenue(c *gin.Context) {
	identity := auth.MustIdentity(c)

	revenue, err := s.RevenueFor(c.Request.Context(), identity.ID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, revenue)
}
