package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/i18n"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	cfg    *config.Config
	db     *gorm.DB
	svc    *Service
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	db := testutil.NewDB(t)
	store, _ := testutil.NewRedis(t, cfg)
	svc := NewService(db, auth.NewAuthenticator(cfg, db, store), i18n.NewTranslator(cfg.DefaultLocale))

	r := gin.New()
	svc.SetupRoutes(r)
	return &fixture{cfg: cfg, db: db, svc: svc, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, user models.User) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	token, err := auth.GenerateToken(f.cfg, user.ID, user.Username, auth.AccessToken)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func bookPath(eventID uint) string {
	return "/api/events/" + strconv.FormatUint(uint64(eventID), 10) + "/book/"
}

func TestBookEventOnce(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	seeker := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)
	event := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "20")

	w, body := f.do(t, http.MethodPost, bookPath(event.ID), seeker)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	booking := body["booking"].(map[string]any)
	assert.Equal(t, "20.00", booking["amount"])
	assert.Equal(t, "confirmed", booking["status"])
	assert.Equal(t, "Go Meetup", booking["event_name"])
	assert.Equal(t, 1.0, booking["event"].(map[string]any)["booking_count"])

	w, body = f.do(t, http.MethodPost, bookPath(event.ID), seeker)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "You have already booked this event", body["error"])

	var count int64
	require.NoError(t, f.db.Model(&models.Booking{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentBookingsCreateOneRow(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	seeker := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)
	event := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "20")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), seeker.ID, event.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var booked, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			booked++
		case apierr.KindOf(err) == apierr.Conflict:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, booked)
	assert.Equal(t, attempts-1, conflicts)

	var count int64
	require.NoError(t, f.db.Model(&models.Booking{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBookMissingEvent(t *testing.T) {
	f := newFixture(t)
	seeker := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)

	w, body := f.do(t, http.MethodPost, bookPath(404), seeker)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Event not found", body["error"])
}

func TestBookingIsIndependentOfInterest(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	seeker := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)
	event := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "0")

	_, err := f.svc.Book(context.Background(), seeker.ID, event.ID)
	require.NoError(t, err)

	var marks int64
	require.NoError(t, f.db.Model(&models.InterestMark{}).Count(&marks).Error)
	assert.Zero(t, marks)
}

func TestUserBookings(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	sam := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)
	kim := testutil.CreateUser(t, f.db, "kim", models.RoleSeeker)
	first := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "5")
	second := testutil.CreateEvent(t, f.db, organiser.ID, "Jazz Evening", "Arts", time.Now().Add(time.Hour), "7.5")

	ctx := context.Background()
	for _, id := range []uint{first.ID, second.ID} {
		_, err := f.svc.Book(ctx, sam.ID, id)
		require.NoError(t, err)
	}
	_, err := f.svc.Book(ctx, kim.ID, first.ID)
	require.NoError(t, err)

	w, body := f.do(t, http.MethodGet, "/api/user/bookings/", sam)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, body["count"])

	names := []string{}
	for _, b := range body["bookings"].([]any) {
		names = append(names, b.(map[string]any)["event_name"].(string))
	}
	assert.ElementsMatch(t, []string{"Go Meetup", "Jazz Evening"}, names)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	sam := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)
	kim := testutil.CreateUser(t, f.db, "kim", models.RoleSeeker)
	event := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "5")

	view, err := f.svc.Book(context.Background(), sam.ID, event.ID)
	require.NoError(t, err)
	path := "/api/user/bookings/" + strconv.FormatUint(uint64(view.ID), 10) + "/cancel/"

	w, _ := f.do(t, http.MethodPost, path, kim)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := f.do(t, http.MethodPost, path, sam)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	booking := body["booking"].(map[string]any)
	assert.Equal(t, "cancelled", booking["status"])
	assert.Equal(t, 0.0, booking["event"].(map[string]any)["booking_count"])

	w, body = f.do(t, http.MethodPost, path, sam)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "cancelled")

	_, err = f.svc.Book(context.Background(), sam.ID, event.ID)
	assert.Equal(t, apierr.Conflict, apierr.KindOf(err))
}

func TestRevenueCountsConfirmedBookingsOnly(t *testing.T) {
	f := newFixture(t)
	organiser := testutil.CreateUser(t, f.db, "olivia", models.RoleOrganizer)
	other := testutil.CreateUser(t, f.db, "oscar", models.RoleOrganizer)
	seekers := []models.User{
		testutil.CreateUser(t, f.db, "sam", models.RoleSeeker),
		testutil.CreateUser(t, f.db, "kim", models.RoleSeeker),
		testutil.CreateUser(t, f.db, "lee", models.RoleSeeker),
	}
	meetup := testutil.CreateEvent(t, f.db, organiser.ID, "Go Meetup", "Tech", time.Now().Add(time.Hour), "10")
	jazz := testutil.CreateEvent(t, f.db, organiser.ID, "Jazz Evening", "Arts", time.Now().Add(2*time.Hour), "2.5")
	foreign := testutil.CreateEvent(t, f.db, other.ID, "Marathon", "Sports", time.Now().Add(time.Hour), "99")

	ctx := context.Background()
	var cancelled uint
	for i, s := range seekers {
		view, err := f.svc.Book(ctx, s.ID, meetup.ID)
		require.NoError(t, err)
		if i == 2 {
			cancelled = view.ID
		}
	}
	_, err := f.svc.Cancel(ctx, seekers[2].ID, cancelled)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, seekers[0].ID, jazz.ID)
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, seekers[0].ID, foreign.ID)
	require.NoError(t, err)

	// Amounts are captured at booking time.
	require.NoError(t, f.db.Model(&models.Event{}).Where("id = ?", meetup.ID).
		Update("ticket_price", decimal.RequireFromString("1000")).Error)

	w, body := f.do(t, http.MethodGet, "/api/organizer/revenue/", organiser)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "22.50", body["total_revenue"])
	assert.Equal(t, 3.0, body["total_bookings"])

	events := body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "Go Meetup", first["event_name"])
	assert.Equal(t, 2.0, first["confirmed_bookings"])
	assert.Equal(t, "20.00", first["revenue"])
	assert.Equal(t, "2.50", events[1].(map[string]any)["revenue"])
}

func TestRevenueWithoutEvents(t *testing.T) {
	f := newFixture(t)
	seeker := testutil.CreateUser(t, f.db, "sam", models.RoleSeeker)

	revenue, err := f.svc.RevenueFor(context.Background(), seeker.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", revenue.TotalRevenue)
	assert.Zero(t, revenue.TotalBookings)
	assert.Empty(t, revenue.Events)
}
