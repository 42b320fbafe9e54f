package event

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/models"
)

// View is the JSON shape of an event in every API response.
type View struct {
	ID                uint      `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	DateTime          time.Time `json:"date_time"`
	Location          string    `json:"location"`
	Category          string    `json:"category"`
	CoverImage        *string   `json:"cover_image"`
	TicketPrice       string    `json:"ticket_price"`
	Organiser         string    `json:"organiser"`
	OrganiserUsername string    `json:"organiser_username"`
	OrganiserName     string    `json:"organiser_name"`
	InterestedCount   int64     `json:"interested_count"`
	BookingCount      int64     `json:"booking_count"`
	CreatedAt         time.Time `json:"created_at"`
}

type countRow struct {
	EventID uint
	Count   int64
}

// Present builds views for events, which must have Organiser loaded.
// Interest and confirmed booking counts are fetched in one query each.
func Present(ctx context.Context, db *gorm.DB, events []models.Event) ([]View, error) {
	views := make([]View, 0, len(events))
	if len(events) == 0 {
		return views, nil
	}

	ids := make([]uint, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}

	interested, err := countByEvent(db.WithContext(ctx).Model(&models.InterestMark{}), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count interest marks: %w", err)
	}
	booked, err := countByEvent(db.WithContext(ctx).Model(&models.Booking{}).Where("status = ?", models.BookingConfirmed), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count bookings: %w", err)
	}

	for _, e := range events {
		views = append(views, View{
			ID:                e.ID,
			Name:              e.Name,
			Description:       e.Description,
			DateTime:          e.DateTime.UTC(),
			Location:          e.Location,
			Category:          e.Category,
			CoverImage:        e.CoverImage,
			TicketPrice:       e.TicketPrice.StringFixed(2),
			Organiser:         e.Organiser.Username,
			OrganiserUsername: e.Organiser.Username,
			OrganiserName:     e.Organiser.FullName(),
			InterestedCount:   interested[e.ID],
			BookingCount:      booked[e.ID],
			CreatedAt:         e.CreatedAt.UTC(),
		})
	}
	return views, nil
}

// PresentOne is Present for a single event.
func PresentOne(ctx context.Context, db *gorm.DB, e models.Event) (View, error) {
	views, err := Present(ctx, db, []models.Event{e})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

func countByEvent(query *gorm.DB, ids []uint) (map[uint]int64, error) {
	var rows []countRow
	err := query.
		Select("event_id, COUNT(*) AS count").
		Where("event_id IN ?", ids).
		Group("event_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.EventID] = row.Count
	}
	return counts, nil
}
