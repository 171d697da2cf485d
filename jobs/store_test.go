package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/forgedev/codeforge/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewGormStore(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJob(ref Ref, items int) *Job {
	now := time.Now().UTC()
	return &Job{
		Ref:        ref.WorkID,
		ArchiveRef: ref.ArchiveID,
		Status:     StatusPending,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestGormStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := NewRef()
	require.NoError(t, store.Create(ctx, newTestJob(ref, 2)))

	got, err := store.GetByRef(ctx, ref.WorkID)
	require.NoError(t, err)
	assert.Equal(t, ref.WorkID, got.Ref)
	assert.Equal(t, ref.ArchiveID, got.ArchiveRef)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 2, got.Items)
	assert.NotZero(t, got.ID)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	byArchive, err := store.GetByArchiveRef(ctx, ref.ArchiveID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byArchive.ID)
}

func TestGormStore_GetByRef_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByRef(context.Background(), "20260822143501123456-8f3ab2c1")
	require.Error(t, err)
	assert.Equal(t, types.ErrJobNotFound, types.GetErrorCode(err))
}

func TestGormStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := NewRef()
	job := newTestJob(ref, 1)
	require.NoError(t, store.Create(ctx, job))

	now := time.Now().UTC()
	job.Status = StatusSucceeded
	job.StartedAt = &now
	job.FinishedAt = &now
	job.ArchivePath = "/tmp/final_zip/x/generated_code_y.zip"
	job.ArchiveSize = 1024
	require.NoError(t, store.Update(ctx, job))

	got, err := store.GetByRef(ctx, ref.WorkID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, "/tmp/final_zip/x/generated_code_y.zip", got.ArchivePath)
	assert.Equal(t, int64(1024), got.ArchiveSize)
}

func TestGormStore_DuplicateRefRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref := NewRef()
	require.NoError(t, store.Create(ctx, newTestJob(ref, 1)))

	dup := newTestJob(Ref{WorkID: ref.WorkID, ArchiveID: NewRef().ArchiveID}, 1)
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestGormStore_ListRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var refs []Ref
	for i := 0; i < 3; i++ {
		ref := NewRef()
		refs = append(refs, ref)
		job := newTestJob(ref, 1)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, job))
	}

	jobs, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// 最新的在前
	assert.Equal(t, refs[2].WorkID, jobs[0].Ref)
	assert.Equal(t, refs[1].WorkID, jobs[1].Ref)

	all, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
