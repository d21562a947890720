package routes

import (
	"encoding/json"
	"errors"

	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/service"
	"github.com/natours/api/internal/store"
	"github.com/natours/api/internal/views"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
)

const (
	MsgNoTourWithName = "No tour found with that name"
	MsgAccountSaved   = "Your account settings were saved."
	localAlert        = "alert"
)

// WebHandler serves the server rendered pages.
type WebHandler struct {
	renderer *views.Renderer
	tours    store.Collection
	reviews  store.Collection
	users    *service.Users
	accounts *service.Accounts
	bookings *service.Bookings
	auth     *AuthHandler
}

func NewWebHandler(renderer *views.Renderer, st *store.Store, accounts *service.Accounts, bookings *service.Bookings, auth *AuthHandler) *WebHandler {
	return &WebHandler{
		renderer: renderer,
		tours:    st.Tours,
		reviews:  st.Reviews,
		users:    service.NewUsers(st.Users),
		accounts: accounts,
		bookings: bookings,
		auth:     auth,
	}
}

// Alerts turns the ?alert= query parameter into a banner message.
func Alerts(c *fiber.Ctx) error {
	if c.Query("alert") == "booking" {
		c.Locals(localAlert, views.AlertBooking)
	}
	return c.Next()
}

func (w *WebHandler) page(c *fiber.Ctx, title string) views.Page {
	alert, _ := c.Locals(localAlert).(string)
	return views.Page{Title: title, User: middleware.CurrentUser(c), Alert: alert}
}

// Overview renders every visible tour.
func (w *WebHandler) Overview(c *fiber.Ctx) error {
	var tours []models.Tour
	q := query.Query{Filter: query.Filter{models.VisibleTours}, Sort: []query.SortKey{{Field: "createdAt", Desc: true}}}
	if err := w.tours.Find(c.UserContext(), q, &tours); err != nil {
		return err
	}
	data := w.page(c, "All Tours")
	data.Tours = tours
	return w.renderer.Render(c, views.PageOverview, data)
}

// Tour renders one tour by slug together with its reviews.
func (w *WebHandler) Tour(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var tour models.Tour
	filter := query.Filter{query.Eq("slug", c.Params("slug")), models.VisibleTours}
	if err := w.tours.FindOne(ctx, filter, &tour); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound(MsgNoTourWithName)
		}
		return err
	}

	var reviews []models.Review
	q := query.Query{Filter: query.Filter{query.Eq("tour", tour.ID)}, Sort: []query.SortKey{{Field: "createdAt"}}}
	if err := w.reviews.Find(ctx, q, &reviews); err != nil {
		return err
	}
	ids := make([]string, len(reviews))
	for i, rv := range reviews {
		ids[i] = rv.User
	}
	authors, err := w.users.FindMany(ctx, unique(ids))
	if err != nil {
		return err
	}
	names := make(map[string]string, len(authors))
	for _, u := range authors {
		names[u.ID] = u.Name
	}

	data := w.page(c, tour.Name+" Tour")
	data.Tour = &tour
	data.Reviews = make([]views.ReviewView, len(reviews))
	for i, rv := range reviews {
		data.Reviews[i] = views.ReviewView{Review: rv.Review, Rating: rv.Rating, UserName: names[rv.User]}
	}
	return w.renderer.Render(c, views.PageTour, data)
}

// LoginForm renders the login page.
func (w *WebHandler) LoginForm(c *fiber.Ctx) error {
	return w.renderer.Render(c, views.PageLogin, w.page(c, "Log into your account"))
}

// Login handles the login form post.
func (w *WebHandler) Login(c *fiber.Ctx) error {
	session, err := w.accounts.Login(c.UserContext(), models.LoginRequest{
		Email:    c.FormValue("email"),
		Password: c.FormValue("password"),
	})
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok || !appErr.IsOperational() {
			return err
		}
		data := w.page(c, "Log into your account")
		data.Message = appErr.Message
		c.Status(appErr.HTTPStatus())
		return w.renderer.Render(c, views.PageLogin, data)
	}
	w.auth.setSessionCookie(c, session.Token)
	return c.Redirect("/")
}

// Account renders the settings page.
func (w *WebHandler) Account(c *fiber.Ctx) error {
	return w.renderer.Render(c, views.PageAccount, w.page(c, "Your account"))
}

// MyTours renders the tours the current user has booked.
func (w *WebHandler) MyTours(c *fiber.Ctx) error {
	tours, err := w.bookings.MyTours(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return err
	}
	data := w.page(c, "My Tours")
	data.Tours = tours
	return w.renderer.Render(c, views.PageOverview, data)
}

// SubmitUserData handles the account settings form post.
func (w *WebHandler) SubmitUserData(c *fiber.Ctx) error {
	body, err := json.Marshal(map[string]string{
		"name":  c.FormValue("name"),
		"email": c.FormValue("email"),
	})
	if err != nil {
		return err
	}
	user, err := w.accounts.UpdateMe(c.UserContext(), middleware.CurrentUser(c), body)
	if err != nil {
		return err
	}
	middleware.SetUser(c, user)

	data := w.page(c, "Your account")
	data.Message = MsgAccountSaved
	return w.renderer.Render(c, views.PageAccount, data)
}
