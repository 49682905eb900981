// Package share issues and resolves share tokens.
//
// A share grants bearer access to exactly one file or folder, optionally
// time-limited. The Share table is the record of grants; the owning resource
// carries a denormalized mirror (IsShared, ShareToken, ShareExpiry) for fast
// in-app checks. Revocation clears the mirror before deleting the Share
// record so a racing resolve never sees a revoked-but-flagged resource.
package share

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/activity"
	"github.com/Chezo25/Krate-it/internal/apperr"
	"github.com/Chezo25/Krate-it/internal/logger"
	"github.com/Chezo25/Krate-it/internal/metrics"
	"github.com/Chezo25/Krate-it/internal/models"
)

// tokenBytes is the entropy of a share token: 32 bytes, hex-encoded to 64
// characters.
const tokenBytes = 32

// NewToken returns a cryptographically random share token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating share token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Manager owns the Share table and the denormalized share mirror on
// resources.
type Manager struct {
	db        *gorm.DB
	activity  *activity.Log
	metrics   *metrics.Metrics
	publicURL string
}

func NewManager(db *gorm.DB, log *activity.Log, m *metrics.Metrics, publicURL string) *Manager {
	return &Manager{db: db, activity: log, metrics: m, publicURL: publicURL}
}

// CreateShareParams carries the share-creation input. Permissions defaults
// to read-only when empty.
type CreateShareParams struct {
	ResourceID      string
	ResourceType    models.ResourceType
	Permissions     []string
	ExpiresAt       *time.Time
	IsPublic        bool
	SharedWithEmail *string
}

// UpdateShareParams holds the partial-update input; nil fields are left
// unchanged.
type UpdateShareParams struct {
	Permissions []string
	ExpiresAt   *time.Time
	IsPublic    *bool
}

// ShareWithResource is a share joined with the resource it grants access to.
type ShareWithResource struct {
	models.Share
	Resource any    `json:"resource,omitempty"`
	ShareURL string `json:"share_url"`
}

// CreateShare verifies ownership of the target resource, persists the share,
// and mirrors the share state onto the resource. It returns the share and
// its public URL.
func (m *Manager) CreateShare(ctx context.Context, userID string, p CreateShareParams) (sh *models.Share, url string, err error) {
	defer func() { m.metrics.Operation(models.ActionShare, err) }()

	if p.ResourceID == "" || (p.ResourceType != models.ResourceTypeFile && p.ResourceType != models.ResourceTypeFolder) {
		return nil, "", fmt.Errorf("resource id and type are required: %w", apperr.ErrInvalidArgument)
	}
	if len(p.Permissions) == 0 {
		p.Permissions = []string{"read"}
	}

	resource, name, err := m.loadResource(ctx, p.ResourceType, p.ResourceID)
	if err != nil {
		return nil, "", err
	}
	if err = models.Authorize(userID, resource); err != nil {
		return nil, "", err
	}

	token, err := NewToken()
	if err != nil {
		return nil, "", err
	}

	sh = &models.Share{
		ResourceID:      p.ResourceID,
		ResourceType:    p.ResourceType,
		OwnerID:         userID,
		SharedWithEmail: p.SharedWithEmail,
		Permissions:     p.Permissions,
		Token:           token,
		ExpiresAt:       p.ExpiresAt,
		IsPublic:        p.IsPublic,
	}
	if err = m.db.WithContext(ctx).Create(sh).Error; err != nil {
		return nil, "", fmt.Errorf("creating share: %w", err)
	}

	if err = m.setResourceShared(ctx, p.ResourceType, p.ResourceID, &token, p.ExpiresAt); err != nil {
		return nil, "", err
	}

	action := models.ActionShare
	if p.ResourceType == models.ResourceTypeFolder {
		action = models.ActionShareFolder
	}
	m.activity.Record(ctx, userID, action, p.ResourceID, name, p.ResourceType, "")

	return sh, m.ShareURL(token), nil
}

// ResolveShare looks a share up by token and loads its resource. This is the
// public share-link landing, so there is no caller identity to check.
func (m *Manager) ResolveShare(ctx context.Context, token string) (*models.Share, any, error) {
	var sh models.Share
	if err := m.db.WithContext(ctx).First(&sh, "token = ?", token).Error; err != nil {
		m.metrics.ShareResolved("not_found")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("share: %w", apperr.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("loading share: %w", err)
	}

	if sh.ExpiresAt != nil && sh.ExpiresAt.Before(time.Now()) {
		m.metrics.ShareResolved("expired")
		return nil, nil, fmt.Errorf("share link has expired: %w", apperr.ErrGone)
	}

	resource, _, err := m.loadResource(ctx, sh.ResourceType, sh.ResourceID)
	if err != nil {
		m.metrics.ShareResolved("not_found")
		return nil, nil, err
	}

	m.metrics.ShareResolved("ok")
	return &sh, resource, nil
}

// ListShares returns the caller's shares newest first, each joined with its
// resource. A share whose resource has vanished is still listed, without the
// resource.
func (m *Manager) ListShares(ctx context.Context, userID string, limit, offset int) ([]ShareWithResource, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var shares []models.Share
	err := m.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("listing shares: %w", err)
	}

	result := make([]ShareWithResource, 0, len(shares))
	for _, sh := range shares {
		entry := ShareWithResource{Share: sh, ShareURL: m.ShareURL(sh.Token)}
		if resource, _, rerr := m.loadResource(ctx, sh.ResourceType, sh.ResourceID); rerr != nil {
			logger.Warn("share %s points at missing resource %s: %v", sh.ID, sh.ResourceID, rerr)
		} else {
			entry.Resource = resource
		}
		result = append(result, entry)
	}
	return result, nil
}

// UpdateShare applies a partial update to the caller's share.
func (m *Manager) UpdateShare(ctx context.Context, userID, shareID string, p UpdateShareParams) (*models.Share, error) {
	sh, err := m.getOwnShare(ctx, userID, shareID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if p.Permissions != nil {
		updates["permissions"] = p.Permissions
		sh.Permissions = p.Permissions
	}
	if p.ExpiresAt != nil {
		updates["expires_at"] = p.ExpiresAt
		sh.ExpiresAt = p.ExpiresAt
	}
	if p.IsPublic != nil {
		updates["is_public"] = *p.IsPublic
		sh.IsPublic = *p.IsPublic
	}
	if len(updates) == 0 {
		return sh, nil
	}

	if err := m.db.WithContext(ctx).Model(&models.Share{}).Where("id = ?", sh.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating share: %w", err)
	}

	// Keep the denormalized expiry on the resource in step.
	if p.ExpiresAt != nil {
		if err := m.setResourceShared(ctx, sh.ResourceType, sh.ResourceID, &sh.Token, p.ExpiresAt); err != nil {
			return nil, err
		}
	}

	return sh, nil
}

// RevokeShare clears the denormalized flags on the resource first and then
// deletes the share record, in that order.
func (m *Manager) RevokeShare(ctx context.Context, userID, shareID string) error {
	sh, err := m.getOwnShare(ctx, userID, shareID)
	if err != nil {
		return err
	}

	if err := m.setResourceShared(ctx, sh.ResourceType, sh.ResourceID, nil, nil); err != nil {
		return err
	}

	if err := m.db.WithContext(ctx).Delete(&models.Share{}, "id = ?", sh.ID).Error; err != nil {
		return fmt.Errorf("deleting share: %w", err)
	}
	return nil
}

// ShareURL builds the public landing URL for a token.
func (m *Manager) ShareURL(token string) string {
	return m.publicURL + "/shared/" + token
}

func (m *Manager) getOwnShare(ctx context.Context, userID, shareID string) (*models.Share, error) {
	var sh models.Share
	if err := m.db.WithContext(ctx).First(&sh, "id = ?", shareID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("share %s: %w", shareID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("loading share %s: %w", shareID, err)
	}
	if err := models.Authorize(userID, &sh); err != nil {
		return nil, err
	}
	return &sh, nil
}

// loadResource fetches the file or folder a share points at. It returns the
// resource and its display name.
func (m *Manager) loadResource(ctx context.Context, rt models.ResourceType, id string) (models.Owned, string, error) {
	switch rt {
	case models.ResourceTypeFile:
		var file models.File
		if err := m.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
			return nil, "", resourceErr(err, id)
		}
		return &file, file.Name, nil
	case models.ResourceTypeFolder:
		var folder models.Folder
		if err := m.db.WithContext(ctx).First(&folder, "id = ?", id).Error; err != nil {
			return nil, "", resourceErr(err, id)
		}
		return &folder, folder.Name, nil
	default:
		return nil, "", fmt.Errorf("unknown resource type %q: %w", rt, apperr.ErrInvalidArgument)
	}
}

// setResourceShared writes the denormalized mirror. A nil token marks the
// resource unshared.
func (m *Manager) setResourceShared(ctx context.Context, rt models.ResourceType, id string, token *string, expiresAt *time.Time) error {
	updates := map[string]any{
		"is_shared":    token != nil,
		"share_token":  token,
		"share_expiry": expiresAt,
	}

	var model any
	if rt == models.ResourceTypeFile {
		model = &models.File{}
	} else {
		model = &models.Folder{}
	}

	if err := m.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating resource share state: %w", err)
	}
	return nil
}

func resourceErr(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("resource %s: %w", id, apperr.ErrNotFound)
	}
	return fmt.Errorf("loading resource %s: %w", id, err)
}
