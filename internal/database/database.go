package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/models"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := Open(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connected successfully")
	return db, nil
}

// Open opens dialector with the settings every connection shares: UTC
// timestamps and driver errors translated to gorm's portable errors.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func Migrate(db *gorm.DB) error {
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Println("Database migrated successfully")
	return nil
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// SeedPassword is the password of every seeded account.
const SeedPassword = "password123"

func SeedData(db *gorm.DB, hash func(string) (string, error)) error {
	// Check if data already exists
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		log.Println("Data already seeded, skipping...")
		return nil
	}

	passwordHash, err := hash(SeedPassword)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	users := []struct {
		user models.User
		role models.Role
	}{
		{models.User{Username: "organizer", Email: "organizer@nexevent.dev", FirstName: "Olivia", LastName: "Organizer"}, models.RoleOrganizer},
		{models.User{Username: "seeker", Email: "seeker@nexevent.dev", FirstName: "Sam", LastName: "Seeker"}, models.RoleSeeker},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var organiserID uint
		for _, u := range users {
			user := u.user
			user.PasswordHash = passwordHash
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create user %s: %w", user.Username, err)
			}
			if err := tx.Create(&models.UserProfile{UserID: user.ID, Role: u.role}).Error; err != nil {
				return fmt.Errorf("failed to create profile for %s: %w", user.Username, err)
			}
			if u.role == models.RoleOrganizer {
				organiserID = user.ID
			}
		}

		start := time.Now().UTC().Truncate(time.Hour).Add(7 * 24 * time.Hour)
		events := []models.Event{
			{Name: "GopherCon Community Day", Description: "Talks and workshops from the local Go community", Location: "Berlin", Category: "Tech", TicketPrice: decimal.RequireFromString("49.99")},
			{Name: "Open Air Jazz Night", Description: "An evening of live jazz in the park", Location: "Lisbon", Category: "Arts", TicketPrice: decimal.RequireFromString("25.00")},
			{Name: "City Half Marathon", Description: "21km through the old town, all levels welcome", Location: "Prague", Category: "Sports", TicketPrice: decimal.RequireFromString("35.50")},
			{Name: "Intro to Data Science", Description: "A hands-on evening course for complete beginners", Location: "Online", Category: "Education", TicketPrice: decimal.Zero},
		}
		for i := range events {
			events[i].OrganiserID = organiserID
			events[i].DateTime = start.Add(time.Duration(i) * 72 * time.Hour)
			if err := tx.Create(&events[i]).Error; err != nil {
				return fmt.Errorf("failed to create event: %w", err)
			}
		}

		log.Println("Sample data seeded successfully")
		return nil
	})
}
