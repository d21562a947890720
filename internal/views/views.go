// Package views renders the server side HTML pages.
package views

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	PageOverview = "overview"
	PageTour     = "tour"
	PageLogin    = "login"
	PageAccount  = "account"
	PageError    = "error"

	layout = "layout"
)

// AlertBooking is shown after the payment page redirects back.
const AlertBooking = "Your booking was successful! Please check your email for confirmation. " +
	"If your booking doesn't show up immediately, please check back later."

// ReviewView is a review with its author's name.
type ReviewView struct {
	Review   string
	Rating   float64
	UserName string
}

// Page is the data every template receives.
type Page struct {
	Title   string
	User    *models.User
	Alert   string
	Message string
	Tours   []models.Tour
	Tour    *models.Tour
	Reviews []ReviewView
}

var funcs = map[string]interface{}{
	"firstName": func(name string) string {
		if f := strings.Fields(name); len(f) > 0 {
			return f[0]
		}
		return name
	},
	"price": func(p float64) string { return strconv.FormatFloat(p, 'f', -1, 64) },
	"date":  func(t time.Time) string { return t.Format("January 2006") },
}

// Renderer wraps the template engine the Fiber app is configured with.
type Renderer struct {
	engine *html.Engine
}

// New parses the embedded templates. The app serving pages must be built
// with Views set to Engine().
func New() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFuncMap(funcs)
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

func (r *Renderer) Engine() fiber.Views { return r.engine }

// Render writes page inside the layout with the response status already
// set on c.
func (r *Renderer) Render(c *fiber.Ctx, page string, data Page) error {
	if r.engine.Templates.Lookup(page) == nil {
		return fmt.Errorf("unknown page %q", page)
	}
	return c.Render(page, data, layout)
}

// RenderError implements middleware.ErrorPageRenderer.
func (r *Renderer) RenderError(c *fiber.Ctx, status int, title, message string) error {
	return r.Render(c, PageError, Page{Title: title, Message: message, User: middleware.CurrentUser(c)})
}
