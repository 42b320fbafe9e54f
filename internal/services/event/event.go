package event

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/metrics"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/validation"
)

type Service struct {
	config    *config.Config
	db        *gorm.DB
	auth      *auth.Authenticator
	validator *validation.Validator
	tr        *i18n.Translator
}

func NewService(cfg *config.Config, db *gorm.DB, authenticator *auth.Authenticator, v *validation.Validator, tr *i18n.Translator) *Service {
	return &Service{
		config:    cfg,
		db:        db,
		auth:      authenticator,
		validator: v,
		tr:        tr,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	events := r.Group("/api/events")
	{
		events.GET("/", s.ListEvents)
		events.GET("/:id/", s.GetEvent)
	}

	// Routes that act on behalf of a user
	authed := r.Group("/api/events")
	authed.Use(s.auth.RequireAuth())
	{
		authed.POST("/create/", s.CreateEvent)
		authed.GET("/my/", s.MyEvents)
		authed.GET("/bookmarks/", s.Bookmarks)
		authed.DELETE("/:id/delete/", s.DeleteEvent)
		authed.POST("/:id/rsvp/", s.ToggleInterest)
	}
}

// ParseID parses an event id path parameter. Anything that is not a
// positive integer names no event.
func ParseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

type ListFilter struct {
	Search   string
	Category string
	Page     int
}

type ListResult struct {
	Total  int64
	Events []View
}

// List returns upcoming events, soonest first, matching f. A zero Page
// returns every match.
func (s *Service) List(ctx context.Context, f ListFilter) (ListResult, error) {
	if f.Category != "" {
		if msg := s.validator.Category(f.Category); msg != "" {
			return ListResult{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), map[string]string{"category": msg})
		}
	}

	now := time.Now().UTC()
	filtered := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&models.Event{}).Where("date_time >= ?", now)
		if f.Search != "" {
			pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
			query = query.Where(
				`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(location) LIKE ? ESCAPE '\')`,
				pattern, pattern, pattern,
			)
		}
		if f.Category != "" {
			query = query.Where("category = ?", f.Category)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return ListResult{}, fmt.Errorf("failed to count events: %w", err)
	}

	query := filtered().Preload("Organiser").Order("date_time ASC").Order("id ASC")
	if f.Page > 0 {
		query = query.Offset((f.Page - 1) * s.config.EventsPerPage).Limit(s.config.EventsPerPage)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return ListResult{}, fmt.Errorf("failed to list events: %w", err)
	}

	views, err := Present(ctx, s.db, events)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Total: total, Events: views}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// Get returns a single event regardless of its date.
func (s *Service) Get(ctx context.Context, id uint) (View, error) {
	event, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return View{}, err
	}
	return PresentOne(ctx, s.db, event)
}

func (s *Service) find(tx *gorm.DB, id uint) (models.Event, error) {
	var event models.Event
	err := tx.Preload("Organiser").First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Event{}, apierr.NewNotFound(s.tr.Msg("EventNotFound"))
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to fetch event %d: %w", id, err)
	}
	return event, nil
}

// Create validates in and stores a new event organised by organiserID.
func (s *Service) Create(ctx context.Context, organiserID uint, in validation.EventInput) (View, error) {
	fields, errs := s.validator.Event(in)
	if len(errs) > 0 {
		return View{}, apierr.NewValidation(s.tr.Msg("ValidationFailed"), errs)
	}

	event := models.Event{
		Name:        fields.Name,
		Description: fields.Description,
		DateTime:    fields.DateTime,
		Location:    fields.Location,
		Category:    fields.Category,
		CoverImage:  fields.CoverImage,
		TicketPrice: fields.TicketPrice,
		OrganiserID: organiserID,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return View{}, fmt.Errorf("failed to create event: %w", err)
	}
	metrics.EventsCreated.Inc()

	return s.Get(ctx, event.ID)
}

type DeleteResult struct {
	EventID           uint
	Name              string
	InterestedRemoved int64
	BookingsRemoved   int64
}

// Delete removes an event with its interest marks and bookings. Only the
// organiser may delete; a missing event is reported before ownership.
func (s *Service) Delete(ctx context.Context, userID, eventID uint) (DeleteResult, error) {
	result := DeleteResult{EventID: eventID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.find(tx, eventID)
		if err != nil {
			return err
		}
		if event.OrganiserID != userID {
			return apierr.NewPermission(s.tr.Msg("NotOrganiser"))
		}
		result.Name = event.Name

		res := tx.Where("event_id = ?", eventID).Delete(&models.InterestMark{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete interest marks: %w", res.Error)
		}
		result.InterestedRemoved = res.RowsAffected

		res = tx.Where("event_id = ?", eventID).Delete(&models.Booking{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete bookings: %w", res.Error)
		}
		result.BookingsRemoved = res.RowsAffected

		if err := tx.Delete(&models.Event{}, eventID).Error; err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}

	metrics.EventsDeleted.Inc()
	return result, nil
}

type ToggleResult struct {
	Interested bool
	Event      View
}

// Toggle adds the user's interest mark when absent and removes it when
// present.
func (s *Service) Toggle(ctx context.Context, userID, eventID uint) (ToggleResult, error) {
	var interested bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.find(tx, eventID); err != nil {
			return err
		}

		res := tx.Where("event_id = ? AND user_id = ?", eventID, userID).Delete(&models.InterestMark{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove interest: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			interested = false
			return nil
		}

		mark := models.InterestMark{EventID: eventID, UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mark).Error; err != nil {
			return fmt.Errorf("failed to add interest: %w", err)
		}
		interested = true
		return nil
	})
	if err != nil {
		return ToggleResult{}, err
	}

	view, err := s.Get(ctx, eventID)
	if err != nil {
		return ToggleResult{}, err
	}
	return ToggleResult{Interested: interested, Event: view}, nil
}

// Mine returns the events organised by userID, newest first.
func (s *Service) Mine(ctx context.Context, userID uint) ([]View, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Preload("Organiser").
		Where("organiser_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events of user %d: %w", userID, err)
	}
	return Present(ctx, s.db, events)
}

// Bookmarked returns the events userID marked as interesting, most recent
// mark first.
func (s *Service) Bookmarked(ctx context.Context, userID uint) ([]View, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Preload("Organiser").
		Joins("JOIN event_interests ON event_interests.event_id = events.id").
		Where("event_interests.user_id = ?", userID).
		Order("event_interests.created_at DESC").Order("events.id DESC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks of user %d: %w", userID, err)
	}
	return Present(ctx, s.db, events)
}

func (s *Service) ListEvents(c *gin.Context) {
	filter := ListFilter{
		Search:   strings.TrimSpace(c.Query("search")),
		Category: strings.TrimSpace(c.Query("category")),
	}
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			apierr.Respond(c, apierr.NewValidation(s.tr.Msg("ValidationFailed"), map[string]string{"page": s.tr.Msg("PageInvalid")}))
			return
		}
		filter.Page = page
	}

	result, err := s.List(c.Request.Context(), filter)
	if err != nil {
		if apierr.KindOf(err) == apierr.Validation {
			log.Printf("Invalid category filter attempted: %q", filter.Category)
		}
		apierr.Respond(c, err)
		return
	}

	message := s.tr.Msg("NoEventsFound")
	if result.Total > 0 {
		message = s.tr.Plural("EventsFound", int(result.Total), nil)
	}

	body := gin.H{
		"message": message,
		"count":   result.Total,
		"events":  result.Events,
		"filters": gin.H{
			"search":   nullable(filter.Search),
			"category": nullable(filter.Category),
		},
	}
	if filter.Page > 0 {
		body["page"] = filter.Page
		body["page_size"] = s.config.EventsPerPage
	}
	c.JSON(http.StatusOK, body)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Service) GetEvent(c *gin.Context) {
	eventID, ok := ParseID(c.Param("id"))
	if !ok {
		apierr.Respond(c, apierr.NewNotFound(s.tr.Msg("EventNotFound")))
		return
	}

	view, err := s.Get(c.Request.Context(), eventID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": view})
}

func (s *Service) CreateEvent(c *gin.Context) {
	identity := auth.MustIdentity(c)

	var req validation.EventInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.NewValidation(s.tr.Msg("InvalidRequest"), map[string]string{"body": err.Error()}))
		return
	}

	view, err := s.Create(c.Request.Context(), identity.ID, req)
	if err != nil {
		if apierr.KindOf(err) == apierr.Validation {
			log.Printf("Event creation validation failed - User: %s", identity.Username)
		}
		apierr.Respond(c, err)
		return
	}

	log.Printf("Event created successfully - ID: %d, Name: %q, Organiser: %s", view.ID, view.Name, identity.Username)
	c.JSON(http.StatusCreated, gin.H{
		"message": s.tr.Msg("EventCreated"),
		"event":   view,
	})
}

func (s *Service) DeleteEvent(c *gin.Context) {
	identity := auth.MustIdentity(c)

	eventID, ok := ParseID(c.Param("id"))
	if !ok {
		apierr.Respond(c, apierr.NewNotFound(s.tr.Msg("EventNotFound")), gin.H{"success": false})
		return
	}

	result, err := s.Delete(c.Request.Context(), identity.ID, eventID)
	if err != nil {
		if apierr.KindOf(err) == apierr.Permission {
			log.Printf("Delete attempt by non-organiser - Event ID: %d, Attempted by: %s", eventID, identity.Username)
		}
		apierr.Respond(c, err, gin.H{"success": false})
		return
	}

	log.Printf("Event deleted - ID: %d, Name: %q, Interested users: %d, Bookings: %d",
		result.EventID, result.Name, result.InterestedRemoved, result.BookingsRemoved)
	c.JSON(http.StatusOK, gin.H{
		"message":                  s.tr.Msg("EventDeleted", map[string]any{"Name": result.Name}),
		"success":                  true,
		"event_id":                 result.EventID,
		"interested_users_removed": result.InterestedRemoved,
		"bookings_removed":         result.BookingsRemoved,
	})
}

func (s *Service) ToggleInterest(c *gin.Context) {
	identity := auth.MustIdentity(c)

	eventID, ok := ParseID(c.Param("id"))
	if !ok {
		apierr.Respond(c, apierr.NewNotFound(s.tr.Msg("EventNotFound")))
		return
	}

	result, err := s.Toggle(c.Request.Context(), identity.ID, eventID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	action, message := "removed", s.tr.Msg("RSVPRemoved")
	if result.Interested {
		action, message = "added", s.tr.Msg("RSVPAdded")
	}
	metrics.RSVPToggles.WithLabelValues(action).Inc()

	c.JSON(http.StatusOK, gin.H{
		"message":    message,
		"interested": result.Interested,
		"action":     action,
		"event":      result.Event,
	})
}

func (s *Service) MyEvents(c *gin.Context) {
	identity := auth.MustIdentity(c)

	views, err := s.Mine(c.Request.Context(), identity.ID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	message := s.tr.Msg("NoMyEvents")
	if len(views) > 0 {
		message = s.tr.Plural("MyEventsFound", len(views), nil)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  message,
		"count":    len(views),
		"events":   views,
		"is_empty": len(views) == 0,
	})
}

func (s *Service) Bookmarks(c *gin.Context) {
	identity := auth.MustIdentity(c)

	views, err := s.Bookmarked(c.Request.Context(), identity.ID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(views),
		"bookmarks": views,
	})
}
