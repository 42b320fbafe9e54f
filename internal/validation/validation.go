package validation

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/models"
)

// Errors maps a field name to a single message. An empty map means valid.
type Errors map[string]string

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var maxTicketPrice = decimal.New(1, 8)

// Validator checks request payloads against the configured bounds. It keeps
// no per-request state and is safe for concurrent use.
type Validator struct {
	cfg      *config.Config
	tr       *i18n.Translator
	validate *validator.Validate
}

func New(cfg *config.Config, tr *i18n.Translator) *Validator {
	return &Validator{
		cfg:      cfg,
		tr:       tr,
		validate: validator.New(),
	}
}

type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Normalize trims the text fields and defaults the role to Seeker.
func (r *Registration) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Role = strings.TrimSpace(r.Role)
	if r.Role == "" {
		r.Role = string(models.RoleSeeker)
	}
}

// Registration validates every field of r and reports all failures at once.
// r must already be normalized.
func (v *Validator) Registration(r Registration) Errors {
	errs := Errors{}

	if msg := v.length(r.Username, v.cfg.UsernameMinLength, v.cfg.UsernameMaxLength,
		"UsernameRequired", "UsernameTooShort", "UsernameTooLong"); msg != "" {
		errs["username"] = msg
	}

	switch {
	case r.Email == "":
		errs["email"] = v.tr.Msg("EmailRequired")
	case v.validate.Var(r.Email, "email") != nil:
		errs["email"] = v.tr.Msg("EmailInvalid")
	case utf8.RuneCountInString(r.Email) > v.cfg.EmailMaxLength:
		errs["email"] = v.tr.Msg("EmailTooLong")
	}

	switch {
	case r.Password == "":
		errs["password"] = v.tr.Msg("PasswordRequired")
	case utf8.RuneCountInString(r.Password) < v.cfg.PasswordMinLength:
		errs["password"] = v.tr.Msg("PasswordTooShort", map[string]any{"Min": v.cfg.PasswordMinLength})
	}

	if r.FirstName == "" {
		errs["first_name"] = v.tr.Msg("FirstNameRequired")
	}
	if r.LastName == "" {
		errs["last_name"] = v.tr.Msg("LastNameRequired")
	}

	if !models.Role(r.Role).Valid() {
		errs["role"] = v.tr.Msg("RoleInvalid", map[string]any{
			"Roles": strings.Join([]string{string(models.RoleSeeker), string(models.RoleOrganizer)}, ", "),
		})
	}

	return errs
}

// EventInput is the raw create-event payload. TicketPrice accepts a JSON
// number or a numeric string.
type EventInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	DateTime    string          `json:"date_time"`
	Location    string          `json:"location"`
	Category    string          `json:"category"`
	CoverImage  string          `json:"cover_image"`
	TicketPrice json.RawMessage `json:"ticket_price"`
}

// EventFields are the validated, typed values of an EventInput.
type EventFields struct {
	Name        string
	Description string
	DateTime    time.Time
	Location    string
	Category    string
	CoverImage  *string
	TicketPrice decimal.Decimal
}

// Event validates in and returns the parsed fields. The fields are only
// meaningful when the returned Errors is empty.
func (v *Validator) Event(in EventInput) (EventFields, Errors) {
	errs := Errors{}
	out := EventFields{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Location:    strings.TrimSpace(in.Location),
		Category:    strings.TrimSpace(in.Category),
	}

	if msg := v.length(out.Name, v.cfg.EventNameMinLength, v.cfg.EventNameMaxLength,
		"EventNameRequired", "EventNameTooShort", "EventNameTooLong"); msg != "" {
		errs["name"] = msg
	}

	if msg := v.description(out.Description); msg != "" {
		errs["description"] = msg
	}

	dateTime := strings.TrimSpace(in.DateTime)
	if dateTime == "" {
		errs["date_time"] = v.tr.Msg("DateTimeRequired")
	} else if t, ok := ParseDateTime(dateTime); ok {
		out.DateTime = t
	} else {
		errs["date_time"] = v.tr.Msg("DateTimeInvalid")
	}

	if msg := v.length(out.Location, v.cfg.EventLocationMinLength, v.cfg.EventLocationMaxLength,
		"LocationRequired", "LocationTooShort", "LocationTooLong"); msg != "" {
		errs["location"] = msg
	}

	if out.Category == "" {
		errs["category"] = v.tr.Msg("CategoryRequired")
	} else if msg := v.Category(out.Category); msg != "" {
		errs["category"] = msg
	}

	if cover := strings.TrimSpace(in.CoverImage); cover != "" {
		if msg := v.coverImage(cover); msg != "" {
			errs["cover_image"] = msg
		} else {
			out.CoverImage = &cover
		}
	}

	price, msg := v.ticketPrice(in.TicketPrice)
	if msg != "" {
		errs["ticket_price"] = msg
	}
	out.TicketPrice = price

	return out, errs
}

// Category returns the error message for an unknown category, or "".
func (v *Validator) Category(category string) string {
	if v.cfg.IsCategory(category) {
		return ""
	}
	return v.tr.Msg("CategoryInvalid", map[string]any{"Choices": choices(v.cfg.EventCategories)})
}

// ParseDateTime accepts RFC 3339 timestamps and the zone-less forms sent by
// HTML datetime inputs. Zone-less values are taken as UTC.
func ParseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (v *Validator) length(value string, minLen, maxLen int, requiredKey, shortKey, longKey string) string {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		return v.tr.Msg(requiredKey)
	case n < minLen:
		return v.tr.Msg(shortKey, map[string]any{"Min": minLen})
	case n > maxLen:
		return v.tr.Msg(longKey, map[string]any{"Max": maxLen})
	}
	return ""
}

func (v *Validator) description(value string) string {
	n := utf8.RuneCountInString(value)
	maxLen := v.cfg.EventDescriptionMaxLength
	switch {
	case n == 0:
		return v.tr.Msg("DescriptionRequired")
	case n < v.cfg.EventDescriptionMinLength:
		return v.tr.Msg("DescriptionTooShort", map[string]any{"Min": v.cfg.EventDescriptionMinLength})
	case n > maxLen:
		return v.tr.Msg("DescriptionTooLong", map[string]any{"Length": n, "Max": maxLen, "Excess": n - maxLen})
	}
	return ""
}

func (v *Validator) coverImage(value string) string {
	if utf8.RuneCountInString(value) > models.CoverImageMaxLength {
		return v.tr.Msg("CoverImageTooLong", map[string]any{"Max": models.CoverImageMaxLength})
	}
	if v.validate.Var(value, "url") != nil {
		return v.tr.Msg("CoverImageInvalid")
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return v.tr.Msg("CoverImageInvalid")
	}
	return ""
}

func (v *Validator) ticketPrice(raw json.RawMessage) (decimal.Decimal, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, ""
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, v.tr.Msg("TicketPriceInvalid")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return decimal.Zero, ""
		}
	}

	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, v.tr.Msg("TicketPriceInvalid")
	}
	switch {
	case price.IsNegative():
		return decimal.Zero, v.tr.Msg("TicketPriceNegative")
	case !price.Equal(price.Round(2)):
		return decimal.Zero, v.tr.Msg("TicketPricePrecision")
	case price.GreaterThanOrEqual(maxTicketPrice):
		return decimal.Zero, v.tr.Msg("TicketPriceTooLarge")
	}
	return price.Round(2), ""
}

func choices(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}
