package views

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/natours/api/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, fn func(c *fiber.Ctx, r *Renderer) error) (int, string) {
	t.Helper()
	r, err := New()
	require.NoError(t, err)

	app := fiber.New(fiber.Config{Views: r.Engine()})
	app.Get("/", func(c *fiber.Ctx) error { return fn(c, r) })
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.MIMETextHTMLCharsetUTF8, resp.Header.Get(fiber.HeaderContentType))
	return resp.StatusCode, string(body)
}

func TestRenderOverview(t *testing.T) {
	tours := []models.Tour{{Name: "The Forest Hiker", Slug: "the-forest-hiker", Price: 397, Difficulty: "easy", Duration: 5}}
	_, body := render(t, func(c *fiber.Ctx, r *Renderer) error {
		return r.Render(c, PageOverview, Page{Title: "All Tours", Tours: tours, Alert: AlertBooking})
	})

	assert.Contains(t, body, "<title>Natours | All Tours</title>")
	assert.Contains(t, body, `href="/tour/the-forest-hiker"`)
	assert.Contains(t, body, "$397")
	assert.Contains(t, body, "Your booking was successful!")
	assert.Contains(t, body, `href="/login"`)
}

func TestRenderTourWithUser(t *testing.T) {
	user := &models.User{Name: "Jonas Schmedtmann"}
	tour := &models.Tour{Name: "The Sea Explorer", StartDates: []time.Time{time.Date(2021, 6, 19, 0, 0, 0, 0, time.UTC)}}
	_, body := render(t, func(c *fiber.Ctx, r *Renderer) error {
		return r.Render(c, PageTour, Page{
			Title: "The Sea Explorer Tour", User: user, Tour: tour,
			Reviews: []ReviewView{{Review: "<b>great</b>", Rating: 5, UserName: "Lourdes"}},
		})
	})

	assert.Contains(t, body, "June 2021")
	assert.Contains(t, body, "<span>Jonas</span>")
	assert.Contains(t, body, "Book tour now!")
	assert.Contains(t, body, "&lt;b&gt;great&lt;/b&gt;")
}

func TestRenderError(t *testing.T) {
	status, body := render(t, func(c *fiber.Ctx, r *Renderer) error {
		c.Status(fiber.StatusNotFound)
		return r.RenderError(c, fiber.StatusNotFound, "Something went wrong!", "No tour found with that name")
	})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body, "No tour found with that name")
}

func TestRenderUnknownPage(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	app := fiber.New(fiber.Config{Views: r.Engine()})
	app.Get("/", func(c *fiber.Ctx) error { return r.Render(c, "nope", Page{}) })
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
