package routes

import (
	"context"
	"fmt"

	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/service"
	"github.com/natours/api/internal/store"
)

// Populator replaces reference ids in views with the referenced
// documents.
type Populator struct {
	users *service.Users
	tours store.Collection
	// reviews is used for the tour detail view
	reviews store.Collection
}

func NewPopulator(st *store.Store) *Populator {
	return &Populator{users: service.NewUsers(st.Users), tours: st.Tours, reviews: st.Reviews}
}

func userSummary(u models.User, fields ...string) View {
	v := View{"id": u.ID, "name": u.Name, "photo": u.Photo}
	for _, f := range fields {
		switch f {
		case "email":
			v["email"] = u.Email
		case "role":
			v["role"] = u.Role
		}
	}
	return v
}

func (p *Populator) usersByID(ctx context.Context, ids []string, fields ...string) (map[string]View, error) {
	users, err := p.users.FindMany(ctx, unique(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]View, len(users))
	for _, u := range users {
		byID[u.ID] = userSummary(u, fields...)
	}
	return byID, nil
}

func (p *Populator) toursByID(ctx context.Context, ids []string) (map[string]View, error) {
	ids = unique(ids)
	byID := make(map[string]View, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	var tours []models.Tour
	if err := p.tours.Find(ctx, query.Query{Filter: query.Filter{query.In("id", values...)}}, &tours); err != nil {
		return nil, fmt.Errorf("failed to load tours: %w", err)
	}
	for _, t := range tours {
		byID[t.ID] = View{"id": t.ID, "name": t.Name}
	}
	return byID, nil
}

// Tours adds durationWeeks to every tour. Detail views also get their
// guides and reviews.
func (p *Populator) Tours(ctx context.Context, docs []*models.Tour, views []View, detail bool) error {
	for i, t := range docs {
		views[i]["durationWeeks"] = t.DurationWeeks()
	}
	if !detail {
		return nil
	}

	for i, t := range docs {
		guides, err := p.usersByID(ctx, t.Guides, "email", "role")
		if err != nil {
			return err
		}
		list := make([]View, 0, len(t.Guides))
		for _, id := range t.Guides {
			if g, ok := guides[id]; ok {
				list = append(list, g)
			}
		}
		views[i]["guides"] = list

		reviews, err := p.tourReviews(ctx, t.ID)
		if err != nil {
			return err
		}
		views[i]["reviews"] = reviews
	}
	return nil
}

func (p *Populator) tourReviews(ctx context.Context, tourID string) ([]View, error) {
	var reviews []*models.Review
	q := query.Query{Filter: query.Filter{query.Eq("tour", tourID)}, Sort: []query.SortKey{{Field: "createdAt"}}}
	if err := p.reviews.Find(ctx, q, &reviews); err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	views := make([]View, len(reviews))
	for i, rv := range reviews {
		v, err := toView(rv)
		if err != nil {
			return nil, err
		}
		views[i] = query.DefaultProjection.Apply(v)
	}
	if err := p.Reviews(ctx, reviews, views, false); err != nil {
		return nil, err
	}
	return views, nil
}

// Reviews replaces the author id with the author's name and photo.
func (p *Populator) Reviews(ctx context.Context, docs []*models.Review, views []View, detail bool) error {
	ids := make([]string, len(docs))
	for i, rv := range docs {
		ids[i] = rv.User
	}
	users, err := p.usersByID(ctx, ids)
	if err != nil {
		return err
	}
	for i, rv := range docs {
		if u, ok := users[rv.User]; ok {
			views[i]["user"] = u
		}
	}
	return nil
}

// Bookings replaces user and tour ids with summaries.
func (p *Populator) Bookings(ctx context.Context, docs []*models.Booking, views []View, detail bool) error {
	userIDs := make([]string, len(docs))
	tourIDs := make([]string, len(docs))
	for i, b := range docs {
		userIDs[i], tourIDs[i] = b.User, b.Tour
	}
	users, err := p.usersByID(ctx, userIDs, "email")
	if err != nil {
		return err
	}
	tours, err := p.toursByID(ctx, tourIDs)
	if err != nil {
		return err
	}
	for i, b := range docs {
		if u, ok := users[b.User]; ok {
			views[i]["user"] = u
		}
		if t, ok := tours[b.Tour]; ok {
			views[i]["tour"] = t
		}
	}
	return nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
