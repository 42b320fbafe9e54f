package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Role string

const (
	RoleSeeker    Role = "Seeker"
	RoleOrganizer Role = "Organizer"
)

func (r Role) Valid() bool {
	return r == RoleSeeker || r == RoleOrganizer
}

type User struct {
	gorm.Model
	Username     string `gorm:"size:150;not null;uniqueIndex"`
	Email        string `gorm:"size:254;not null;uniqueIndex"`
	PasswordHash string `json:"-" gorm:"not null"`
	FirstName    string `gorm:"size:150"`
	LastName     string `gorm:"size:150"`

	Profile UserProfile `gorm:"foreignKey:UserID"`
}

// FullName mirrors how the frontend shows organisers: first and last name
// joined, or empty when neither is set.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

type UserProfile struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;uniqueIndex"`
	Role      Role      `gorm:"size:20;not null;default:'Seeker'"`
	CreatedAt time.Time
}

const CoverImageMaxLength = 200

// Event rows are hard-deleted together with their interest marks and bookings.
type Event struct {
	ID          uint            `gorm:"primaryKey"`
	Name        string          `gorm:"size:200;not null"`
	Description string          `gorm:"size:500;not null"`
	DateTime    time.Time       `gorm:"not null;index"`
	Location    string          `gorm:"size:200;not null"`
	Category    string          `gorm:"size:50;not null;index"`
	CoverImage  *string         `gorm:"size:200"`
	TicketPrice decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	OrganiserID uint            `gorm:"not null;index"`
	CreatedAt   time.Time

	// Relationships
	Organiser     User           `gorm:"foreignKey:OrganiserID"`
	InterestMarks []InterestMark `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	Bookings      []Booking      `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

// InterestMark is a free RSVP/bookmark. The composite primary key keeps at
// most one mark per (event, user).
type InterestMark struct {
	EventID   uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

func (InterestMark) TableName() string {
	return "event_interests"
}

type Booking struct {
	ID          uint            `gorm:"primaryKey"`
	EventID     uint            `gorm:"not null;uniqueIndex:idx_booking_event_attendee"`
	AttendeeID  uint            `gorm:"not null;uniqueIndex:idx_booking_event_attendee;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Status      BookingStatus   `gorm:"size:20;not null;default:'confirmed'"`
	BookingDate time.Time       `gorm:"not null"`

	Event    Event `gorm:"foreignKey:EventID"`
	Attendee User  `gorm:"foreignKey:AttendeeID"`
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&UserProfile{},
		&Event{},
		&InterestMark{},
		&Booking{},
	)
}
