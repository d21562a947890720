package models

import "github.com/natours/api/internal/query"

// Filterable attributes per collection. Attributes not listed are matched
// as plain strings.
var (
	TourSchema = query.Schema{
		"id":              {Kind: query.KindID},
		"name":            {Kind: query.KindString},
		"slug":            {Kind: query.KindString},
		"duration":        {Kind: query.KindNumber},
		"maxGroupSize":    {Kind: query.KindNumber},
		"difficulty":      {Kind: query.KindString},
		"ratingsAverage":  {Kind: query.KindNumber},
		"ratingsQuantity": {Kind: query.KindNumber},
		"price":           {Kind: query.KindNumber},
		"priceDiscount":   {Kind: query.KindNumber},
		"summary":         {Kind: query.KindString},
		"createdAt":       {Kind: query.KindTime},
		"startDates":      {Kind: query.KindTime, List: true},
		"secretTour":      {Kind: query.KindBool, Hidden: true},
		"guides":          {Kind: query.KindID, List: true},
		"images":          {Kind: query.KindString, List: true},
	}

	UserSchema = query.Schema{
		"id":                   {Kind: query.KindID},
		"name":                 {Kind: query.KindString},
		"email":                {Kind: query.KindString},
		"role":                 {Kind: query.KindString},
		"createdAt":            {Kind: query.KindTime},
		"passwordChangedAt":    {Kind: query.KindTime},
		"password":             {Kind: query.KindString, Hidden: true},
		"passwordResetToken":   {Kind: query.KindString, Hidden: true},
		"passwordResetExpires": {Kind: query.KindTime, Hidden: true},
		"active":               {Kind: query.KindBool, Hidden: true},
	}

	ReviewSchema = query.Schema{
		"id":        {Kind: query.KindID},
		"review":    {Kind: query.KindString},
		"rating":    {Kind: query.KindNumber},
		"createdAt": {Kind: query.KindTime},
		"tour":      {Kind: query.KindID},
		"user":      {Kind: query.KindID},
	}

	BookingSchema = query.Schema{
		"id":        {Kind: query.KindID},
		"tour":      {Kind: query.KindID},
		"user":      {Kind: query.KindID},
		"price":     {Kind: query.KindNumber},
		"paid":      {Kind: query.KindBool},
		"createdAt": {Kind: query.KindTime},
	}
)

// Scopes applied to every find.
var (
	VisibleTours = query.Ne("secretTour", true)
	ActiveUsers  = query.Ne("active", false)
)
