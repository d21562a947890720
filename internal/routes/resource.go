package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// View is the JSON form of a document as sent to clients.
type View = map[string]interface{}

// Entity is a pointer to a stored model type.
type Entity[T any] interface {
	*T
	store.Document
}

// Resource builds the standard CRUD handlers for one collection.
type Resource[T any, P Entity[T]] struct {
	Collection store.Collection
	Schema     query.Schema
	// Scope is added to every lookup and listing.
	Scope []query.Predicate
	// ParentParam names a route parameter that, when present, restricts
	// listings to documents whose ParentField equals it.
	ParentParam string
	ParentField string
	// NotFoundMessage replaces the default 404 message.
	NotFoundMessage string

	// BeforeCreate runs after the body is decoded, before validation.
	BeforeCreate func(c *fiber.Ctx, doc P) error
	// Authorize runs on the loaded document before update and delete.
	Authorize func(c *fiber.Ctx, doc P) error
	// AfterWrite runs after a successful write; before is nil on create
	// and after is nil on delete. Failures are logged only.
	AfterWrite func(ctx context.Context, before, after P) error
	// Present adds derived or referenced fields to views. detail is set
	// for single document responses.
	Present func(ctx context.Context, docs []P, views []View, detail bool) error

	Logger *logrus.Logger
	Now    func() time.Time
}

// CreateOne handles POST on the collection.
func (r *Resource[T, P]) CreateOne(c *fiber.Ctx) error {
	ctx := c.UserContext()

	doc := P(new(T))
	if d, ok := any(doc).(models.Defaulter); ok {
		d.ApplyDefaults(r.now())
	}
	if err := decodeBody(c, doc); err != nil {
		return err
	}
	doc.SetDocumentID("")
	doc.SetDocumentVersion(0)

	if r.BeforeCreate != nil {
		if err := r.BeforeCreate(c, doc); err != nil {
			return err
		}
	}
	if err := normalizeAndValidate(doc); err != nil {
		return err
	}
	if err := r.Collection.Insert(ctx, doc); err != nil {
		return err
	}
	r.afterWrite(ctx, nil, doc)

	view, err := r.present(ctx, doc)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"data": view},
	})
}

// GetOne handles GET on /:id.
func (r *Resource[T, P]) GetOne(c *fiber.Ctx) error {
	doc, err := r.load(c)
	if err != nil {
		return err
	}
	view, err := r.present(c.UserContext(), doc)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"data": view},
	})
}

// GetAll handles GET on the collection with filter, sort, field
// selection and pagination from the query string.
func (r *Resource[T, P]) GetAll(c *fiber.Ctx) error {
	ctx := c.UserContext()

	spec, err := query.Parse(c.Queries(), r.Schema)
	if err != nil {
		return err
	}

	scope := append([]query.Predicate{}, r.Scope...)
	if r.ParentParam != "" {
		if raw := c.Params(r.ParentParam); raw != "" {
			parentID, err := query.Coerce(r.ParentParam, raw, query.KindID, true)
			if err != nil {
				return err
			}
			scope = append(scope, query.Eq(r.ParentField, parentID))
		}
	}

	var docs []T
	if err := r.Collection.Find(ctx, spec.Query(r.Schema, scope...), &docs); err != nil {
		return err
	}

	ptrs := make([]P, len(docs))
	views := make([]View, len(docs))
	for i := range docs {
		ptrs[i] = P(&docs[i])
		if views[i], err = toView(ptrs[i]); err != nil {
			return err
		}
	}
	if r.Present != nil {
		if err := r.Present(ctx, ptrs, views, false); err != nil {
			return err
		}
	}
	for i := range views {
		views[i] = spec.Projection.Apply(views[i])
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"results": len(views),
		"data":    fiber.Map{"data": views},
	})
}

// UpdateOne handles PATCH on /:id. The body is laid over the stored
// document and the result validated as a whole.
func (r *Resource[T, P]) UpdateOne(c *fiber.Ctx) error {
	ctx := c.UserContext()

	doc, err := r.load(c)
	if err != nil {
		return err
	}
	if r.Authorize != nil {
		if err := r.Authorize(c, doc); err != nil {
			return err
		}
	}

	before := P(new(T))
	*before = *doc

	id, version := doc.DocumentID(), doc.DocumentVersion()
	if err := decodeBody(c, doc); err != nil {
		return err
	}
	doc.SetDocumentID(id)
	doc.SetDocumentVersion(version)

	if err := normalizeAndValidate(doc); err != nil {
		return err
	}
	if err := r.Collection.Save(ctx, doc); err != nil {
		return err
	}
	r.afterWrite(ctx, before, doc)

	view, err := r.present(ctx, doc)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"data": view},
	})
}

// DeleteOne handles DELETE on /:id.
func (r *Resource[T, P]) DeleteOne(c *fiber.Ctx) error {
	ctx := c.UserContext()

	doc, err := r.load(c)
	if err != nil {
		return err
	}
	if r.Authorize != nil {
		if err := r.Authorize(c, doc); err != nil {
			return err
		}
	}
	if err := r.Collection.Delete(ctx, doc.DocumentID()); err != nil {
		return r.notFound(err)
	}
	r.afterWrite(ctx, doc, nil)
	return c.SendStatus(fiber.StatusNoContent)
}

func (r *Resource[T, P]) load(c *fiber.Ctx) (P, error) {
	id, err := query.Coerce("id", c.Params("id"), query.KindID, true)
	if err != nil {
		return nil, err
	}

	doc := P(new(T))
	filter := append(query.Filter{query.Eq("id", id)}, r.Scope...)
	if err := r.Collection.FindOne(c.UserContext(), filter, doc); err != nil {
		return nil, r.notFound(err)
	}
	return doc, nil
}

func (r *Resource[T, P]) notFound(err error) error {
	if r.NotFoundMessage != "" && errors.Is(err, store.ErrNotFound) {
		return apperrors.NewAppError(apperrors.CodeNotFound, r.NotFoundMessage, err)
	}
	return err
}

func (r *Resource[T, P]) present(ctx context.Context, doc P) (View, error) {
	view, err := toView(doc)
	if err != nil {
		return nil, err
	}
	if r.Present != nil {
		if err := r.Present(ctx, []P{doc}, []View{view}, true); err != nil {
			return nil, err
		}
	}
	return query.DefaultProjection.Apply(view), nil
}

func (r *Resource[T, P]) afterWrite(ctx context.Context, before, after P) {
	if r.AfterWrite == nil {
		return
	}
	if err := r.AfterWrite(ctx, before, after); err != nil && r.Logger != nil {
		r.Logger.WithError(err).Warn("Post-write hook failed")
	}
}

func (r *Resource[T, P]) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func decodeBody(c *fiber.Ctx, v interface{}) error {
	body := c.Body()
	if len(body) == 0 {
		return apperrors.BadRequest("Request body is required")
	}
	return json.Unmarshal(body, v)
}

func normalizeAndValidate(doc interface{}) error {
	if n, ok := doc.(models.Normalizer); ok {
		n.Normalize()
	}
	return models.Validate(doc)
}

// toView renders v through its JSON tags.
func toView(v interface{}) (View, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view: %w", err)
	}
	var view View
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("failed to decode view: %w", err)
	}
	return view, nil
}
