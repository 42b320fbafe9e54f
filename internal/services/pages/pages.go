package pages

import (
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexevent/nexevent/internal/apierr"
	"github.com/nexevent/nexevent/internal/auth"
	"github.com/nexevent/nexevent/internal/config"
	"github.com/nexevent/nexevent/internal/models"
	"github.com/nexevent/nexevent/internal/services/event"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded page templates. Each page is named after
// its file.
func Templates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}

const (
	seekerDashboard    = "/seeker-dashboard"
	organizerDashboard = "/organizer-dashboard"
	loginPage          = "/login"
)

type Service struct {
	config *config.Config
	auth   *auth.Authenticator
}

func NewService(cfg *config.Config, authenticator *auth.Authenticator) *Service {
	return &Service{
		config: cfg,
		auth:   authenticator,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(Templates())

	// Public pages, skipped by signed-in users
	r.GET("/", s.Index)
	r.GET("/login", s.Login)
	r.GET("/register", s.Register)
	r.GET("/join", s.Join)
	r.GET("/join/attending", s.JoinAttending)
	r.GET("/join/organizing", s.JoinOrganizing)

	// Pages that accept a one-off ?token=
	r.GET("/dashboard", s.Dashboard)
	r.GET("/create-event", s.CreateEvent)
	r.GET(seekerDashboard, s.SeekerDashboard)
	r.GET(organizerDashboard, s.OrganizerDashboard)

	r.GET("/event/:id", s.EventDetails)
}

func dashboardFor(identity *auth.Identity) string {
	if identity.IsOrganizer() {
		return organizerDashboard
	}
	return seekerDashboard
}

// publicPage renders page unless the request carries a session, in which
// case the user is sent to their dashboard.
func (s *Service) publicPage(c *gin.Context, page string, data gin.H) {
	if identity, err := s.auth.Authenticate(c, auth.Options{}); err == nil {
		c.Redirect(http.StatusFound, dashboardFor(identity))
		return
	}

	data["title"] = pageTitle(page)
	c.HTML(http.StatusOK, page, data)
}

func pageTitle(page string) string {
	switch page {
	case "login.html":
		return "Login"
	case "register.html":
		return "Register"
	case "join.html":
		return "Join"
	case "dashboard.html":
		return "Dashboard"
	case "create-event.html":
		return "Create Event"
	case "seeker_dashboard.html", "organizer_dashboard.html":
		return "My Dashboard"
	case "event-details.html":
		return "Event"
	}
	return "Discover Events"
}

// pageIdentity authenticates a page request, turning a valid ?token= into
// a session. Infrastructure failures are answered here and reported as
// handled.
func (s *Service) pageIdentity(c *gin.Context) (identity *auth.Identity, handled bool) {
	identity, err := s.auth.Authenticate(c, auth.Options{PermitQueryToken: true})
	switch {
	case err == nil:
		return identity, false
	case errors.Is(err, auth.ErrInvalidToken):
		log.Printf("Page authentication failed for %s: %v", c.Request.URL.Path, err)
		return nil, false
	case errors.Is(err, auth.ErrNotAuthenticated):
		return nil, false
	}
	apierr.Respond(c, err)
	return nil, true
}

func (s *Service) Index(c *gin.Context) {
	s.publicPage(c, "index.html", gin.H{"categories": s.config.EventCategories})
}

func (s *Service) Login(c *gin.Context) {
	s.publicPage(c, "login.html", gin.H{"role": c.Query("role")})
}

func (s *Service) Register(c *gin.Context) {
	role := c.Query("role")
	s.publicPage(c, "register.html", gin.H{
		"role":         role,
		"role_display": roleDisplay(models.Role(role)),
	})
}

func roleDisplay(role models.Role) string {
	switch role {
	case models.RoleOrganizer:
		return "Organizer"
	case models.RoleSeeker:
		return "Attendee"
	}
	return ""
}

func (s *Service) Join(c *gin.Context) {
	s.publicPage(c, "join.html", gin.H{})
}

func (s *Service) JoinAttending(c *gin.Context) {
	s.publicPage(c, "register.html", gin.H{
		"role":         models.RoleSeeker,
		"role_display": roleDisplay(models.RoleSeeker),
	})
}

func (s *Service) JoinOrganizing(c *gin.Context) {
	s.publicPage(c, "register.html", gin.H{
		"role":         models.RoleOrganizer,
		"role_display": roleDisplay(models.RoleOrganizer),
	})
}

// Dashboard and CreateEvent show the login form in place when the visitor
// is not signed in.
func (s *Service) Dashboard(c *gin.Context) {
	s.privatePage(c, "dashboard.html", gin.H{})
}

func (s *Service) CreateEvent(c *gin.Context) {
	s.privatePage(c, "create-event.html", gin.H{
		"categories":      s.config.EventCategories,
		"description_max": s.config.EventDescriptionMaxLength,
	})
}

// privatePage consults ?token= only when the visitor has no session.
func (s *Service) privatePage(c *gin.Context, page string, data gin.H) {
	identity, err := s.auth.Authenticate(c, auth.Options{})
	if err != nil {
		var handled bool
		if identity, handled = s.pageIdentity(c); handled {
			return
		}
	}
	if identity == nil {
		c.HTML(http.StatusOK, "login.html", gin.H{"title": pageTitle("login.html")})
		return
	}

	data["title"] = pageTitle(page)
	data["user"] = identity
	c.HTML(http.StatusOK, page, data)
}

func (s *Service) SeekerDashboard(c *gin.Context) {
	s.roleDashboard(c, models.RoleSeeker, "seeker_dashboard.html")
}

func (s *Service) OrganizerDashboard(c *gin.Context) {
	s.roleDashboard(c, models.RoleOrganizer, "organizer_dashboard.html")
}

// roleDashboard sends anonymous visitors to the login page and users of
// the other role to their own dashboard.
func (s *Service) roleDashboard(c *gin.Context, role models.Role, page string) {
	identity, handled := s.pageIdentity(c)
	if handled {
		return
	}
	if identity == nil {
		c.Redirect(http.StatusFound, loginPage)
		return
	}
	if identity.Role != role {
		c.Redirect(http.StatusFound, dashboardFor(identity))
		return
	}

	c.HTML(http.StatusOK, page, gin.H{
		"title": pageTitle(page),
		"user":  identity,
	})
}

func (s *Service) EventDetails(c *gin.Context) {
	eventID, ok := event.ParseID(c.Param("id"))
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.HTML(http.StatusOK, "event-details.html", gin.H{
		"title":    pageTitle("event-details.html"),
		"event_id": eventID,
	})
}
