package main

import (
	"context"
	"io"
	"testing"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestImportAndDelete(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()
	st := store.NewMemory()

	counts, err := Import(ctx, st, auth.NewPasswords(bcrypt.MinCost), devData, logger)
	require.NoError(t, err)
	assert.Equal(t, Counts{Users: 9, Tours: 5, Reviews: 6}, counts)

	var hiker models.Tour
	require.NoError(t, st.Tours.FindOne(ctx, query.Filter{query.Eq("slug", "the-forest-hiker")}, &hiker))
	assert.Equal(t, 2, hiker.RatingsQuantity)
	assert.Equal(t, 4.5, hiker.RatingsAverage)
	require.Len(t, hiker.Guides, 2)

	var guide models.User
	require.NoError(t, st.Users.FindOne(ctx, store.ByID(hiker.Guides[0]), &guide))
	assert.Equal(t, models.RoleLeadGuide, guide.Role)
	assert.True(t, auth.NewPasswords(bcrypt.MinCost).Compare(guide.Password, "test1234"))

	_, err = Import(ctx, st, auth.NewPasswords(bcrypt.MinCost), devData, logger)
	var dup *store.DuplicateKeyError
	assert.ErrorAs(t, err, &dup)

	require.NoError(t, Delete(ctx, st))
	for _, col := range st.Collections() {
		n, err := col.Count(ctx, query.Filter{})
		require.NoError(t, err)
		assert.Zero(t, n, col.Name())
	}
}

func TestRootCmdRequiresExactlyOneMode(t *testing.T) {
	for _, args := range [][]string{{}, {"--import", "--delete"}} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.Error(t, cmd.Execute(), args)
	}
}
