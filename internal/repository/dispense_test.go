package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/models"
)

func TestDispenseRepository(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	repo := NewManager(db).Dispense()
	ctx := context.Background()

	records := []*models.DispenseRecord{
		{DevicePath: "/dev/ttyS1", Counts: models.Counts{2, 0, 0, 0, 0, 0, 0, 0}, Success: true, RequestID: "a"},
		{DevicePath: "/dev/ttyS1", Counts: models.Counts{1, 1, 1, 1, 1, 1, 1, 1}, Success: true, RequestID: "b"},
		{DevicePath: "/dev/ttyS1", Counts: models.Counts{0, 9}, Success: false, ErrorMsg: "device NAK", RequestID: "c"},
	}
	for _, rec := range records {
		require.NoError(t, repo.Create(ctx, rec))
	}
	assert.Equal(t, 8, records[1].TotalNotes)

	got, err := repo.FindByRequestID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{2, 0, 0, 0, 0, 0, 0, 0}, got.Counts)
	assert.Equal(t, 2, got.TotalNotes)

	_, err = repo.FindByRequestID(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	page := NewPagination(1, 2)
	list, err := repo.List(ctx, page)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, "c", list[0].RequestID)

	totals, err := repo.Totals(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, totals.Records)
	assert.EqualValues(t, 1, totals.Failed)
	assert.Equal(t, models.Counts{3, 1, 1, 1, 1, 1, 1, 1}, totals.Cassettes)
	assert.Equal(t, 10, totals.TotalNotes)
}

func TestDispenseRepository_InsertFailure(t *testing.T) {
	db := SetupTestDB()
	defer CleanupTestDB(db)
	require.NoError(t, db.Migrator().DropTable(&models.DispenseRecord{}))

	err := NewDispenseRepository(db).Create(context.Background(), &models.DispenseRecord{RequestID: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDatabaseInsert))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 1000)
	assert.Equal(t, 500, p.PageSize)
	assert.Equal(t, 1000, p.Offset())
}
