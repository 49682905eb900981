package activity

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/models"
)

func newTestLog(t *testing.T) (*Log, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Activity{}))
	return NewLog(db, nil), db
}

func TestRecordAndList(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	log.Record(ctx, "alice", models.ActionUpload, "file-1", "a.txt", models.ResourceTypeFile, "")
	log.Record(ctx, "alice", models.ActionRename, "file-1", "b.txt", models.ResourceTypeFile, `renamed from "a.txt"`)
	log.Record(ctx, "bob", models.ActionUpload, "file-2", "c.txt", models.ResourceTypeFile, "")

	entries, err := log.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "alice", e.UserID)
	}
}

func TestRecord_CapturesRequestMeta(t *testing.T) {
	log, db := newTestLog(t)

	ctx := WithRequestMeta(context.Background(), RequestMeta{
		IPAddress: "203.0.113.7",
		UserAgent: "krate-test/1.0",
	})
	log.Record(ctx, "alice", models.ActionDownload, "file-1", "a.txt", models.ResourceTypeFile, "")

	var entry models.Activity
	require.NoError(t, db.First(&entry).Error)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "203.0.113.7", *entry.IPAddress)
	require.NotNil(t, entry.UserAgent)
	assert.Equal(t, "krate-test/1.0", *entry.UserAgent)
}

func TestRecord_SwallowsWriteFailure(t *testing.T) {
	log, db := newTestLog(t)

	require.NoError(t, db.Migrator().DropTable(&models.Activity{}))

	// Must not panic or surface the error to the caller.
	log.Record(context.Background(), "alice", models.ActionUpload, "file-1", "a.txt", models.ResourceTypeFile, "")
}

func TestList_NewestFirst(t *testing.T) {
	log, db := newTestLog(t)
	ctx := context.Background()

	now := time.Now()
	for i, action := range []string{models.ActionUpload, models.ActionRename, models.ActionDelete} {
		entry := models.Activity{
			UserID:     "alice",
			Action:     action,
			TargetID:   "file-1",
			TargetName: "a.txt",
			TargetType: models.ResourceTypeFile,
			CreatedAt:  now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&entry).Error)
	}

	entries, err := log.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ActionDelete, entries[0].Action)
	assert.Equal(t, models.ActionUpload, entries[2].Action)

	paged, err := log.List(ctx, "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, models.ActionRename, paged[0].Action)
}

func TestPrune(t *testing.T) {
	log, db := newTestLog(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -120)
	// More than one batch's worth of stale entries.
	for i := 0; i < 150; i++ {
		entry := models.Activity{
			UserID:     "alice",
			Action:     models.ActionUpload,
			TargetID:   "file-old",
			TargetName: "old.txt",
			TargetType: models.ResourceTypeFile,
			CreatedAt:  old,
		}
		require.NoError(t, db.Create(&entry).Error)
	}
	log.Record(ctx, "alice", models.ActionUpload, "file-new", "new.txt", models.ResourceTypeFile, "")

	removed, err := log.Prune(ctx, 90)
	require.NoError(t, err)
	assert.EqualValues(t, 150, removed)

	entries, err := log.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file-new", entries[0].TargetID)

	// Pruning again is a no-op.
	removed, err = log.Prune(ctx, 90)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
