package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ResourceType string

const (
	ResourceTypeFile   ResourceType = "file"
	ResourceTypeFolder ResourceType = "folder"
)

// Activity actions. Folder actions carry the _folder suffix so the feed can
// render them without consulting TargetType.
const (
	ActionUpload       = "upload"
	ActionDownload     = "download"
	ActionDelete       = "delete"
	ActionRename       = "rename"
	ActionShare        = "share"
	ActionCreateFolder = "create_folder"
	ActionDeleteFolder = "delete_folder"
	ActionRenameFolder = "rename_folder"
	ActionShareFolder  = "share_folder"
)

type Folder struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(255);not null" json:"name"`
	ParentID    *string    `gorm:"type:varchar(36);index" json:"parent_id"` // nil = root
	OwnerID     string     `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Path        string     `gorm:"type:varchar(1024);not null" json:"path"`
	IsShared    bool       `gorm:"not null;default:false" json:"is_shared"`
	ShareToken  *string    `gorm:"type:varchar(64)" json:"share_token,omitempty"`
	ShareExpiry *time.Time `json:"share_expiry,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type File struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	OriginalName string     `gorm:"type:varchar(255);not null" json:"original_name"`
	Size         int64      `gorm:"not null" json:"size"`
	MimeType     string     `gorm:"type:varchar(255)" json:"mime_type"`
	StorageID    string     `gorm:"type:varchar(64);not null" json:"-"`
	FolderID     *string    `gorm:"type:varchar(36);index" json:"folder_id"` // nil = root level
	OwnerID      string     `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Path         string     `gorm:"type:varchar(1024);not null" json:"path"`
	IsShared     bool       `gorm:"not null;default:false" json:"is_shared"`
	ShareToken   *string    `gorm:"type:varchar(64)" json:"share_token,omitempty"`
	ShareExpiry  *time.Time `json:"share_expiry,omitempty"`
	Tags         []string   `gorm:"serializer:json" json:"tags"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Share struct {
	ID              string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	ResourceID      string       `gorm:"type:varchar(36);not null;index" json:"resource_id"`
	ResourceType    ResourceType `gorm:"type:varchar(16);not null" json:"resource_type"`
	OwnerID         string       `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	SharedWithEmail *string      `gorm:"type:varchar(255)" json:"shared_with_email,omitempty"`
	Permissions     []string     `gorm:"serializer:json" json:"permissions"`
	Token           string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	IsPublic        bool         `gorm:"not null;default:true" json:"is_public"`
	CreatedAt       time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type Activity struct {
	ID         string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID     string       `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Action     string       `gorm:"type:varchar(32);not null" json:"action"`
	TargetID   string       `gorm:"type:varchar(36);not null" json:"target_id"`
	TargetName string       `gorm:"type:varchar(255);not null" json:"target_name"`
	TargetType ResourceType `gorm:"type:varchar(16);not null" json:"target_type"`
	Details    *string      `gorm:"type:varchar(1024)" json:"details,omitempty"`
	IPAddress  *string      `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent  *string      `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	CreatedAt  time.Time    `gorm:"index" json:"created_at"`
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

func (s *Share) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
