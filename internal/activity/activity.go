// Package activity maintains the append-only audit trail.
//
// Writes are best-effort: a failed audit write is logged, counted, and
// swallowed so it can never fail the operation that triggered it.
package activity

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/logger"
	"github.com/Chezo25/Krate-it/internal/metrics"
	"github.com/Chezo25/Krate-it/internal/models"
)

// pruneBatchSize bounds how many records one prune round deletes.
const pruneBatchSize = 100

type requestMetaKey struct{}

// RequestMeta carries transport-level details the audit trail records when
// available.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta attaches request metadata for Record to pick up.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// Log records and serves user activity.
type Log struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

func NewLog(db *gorm.DB, m *metrics.Metrics) *Log {
	return &Log{db: db, metrics: m}
}

// Record appends one audit record. Failures are swallowed.
func (l *Log) Record(ctx context.Context, userID, action, targetID, targetName string, targetType models.ResourceType, details string) {
	record := models.Activity{
		UserID:     userID,
		Action:     action,
		TargetID:   targetID,
		TargetName: targetName,
		TargetType: targetType,
	}
	if details != "" {
		record.Details = &details
	}
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		if meta.IPAddress != "" {
			record.IPAddress = &meta.IPAddress
		}
		if meta.UserAgent != "" {
			record.UserAgent = &meta.UserAgent
		}
	}

	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Error("failed to log activity %s for user %s: %v", action, userID, err)
		l.metrics.AuditDropped()
	}
}

// List returns the user's activity, newest first.
func (l *Log) List(ctx context.Context, userID string, limit, offset int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var records []models.Activity
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return records, nil
}

// Prune deletes records older than the retention window in bounded batches
// and returns how many were removed. Running it again with nothing left to
// delete is a no-op.
func (l *Log) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	var total int64
	for {
		var ids []string
		err := l.db.WithContext(ctx).Model(&models.Activity{}).
			Where("created_at < ?", cutoff).
			Order("created_at asc").
			Limit(pruneBatchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, fmt.Errorf("selecting prune batch: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		res := l.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Activity{})
		if res.Error != nil {
			return total, fmt.Errorf("deleting prune batch: %w", res.Error)
		}
		total += res.RowsAffected
	}

	if total > 0 {
		logger.Info("pruned %d activity records older than %d days", total, olderThanDays)
	}
	return total, nil
}
