// Package hierarchy owns the folder/file tree.
//
// Every operation takes the already-resolved caller id and enforces ownership
// through models.Authorize before touching anything. Folder paths are
// materialized once at creation from the parent's path and name; renaming an
// ancestor intentionally leaves descendant paths stale.
package hierarchy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/activity"
	"github.com/Chezo25/Krate-it/internal/apperr"
	"github.com/Chezo25/Krate-it/internal/logger"
	"github.com/Chezo25/Krate-it/internal/metrics"
	"github.com/Chezo25/Krate-it/internal/models"
	"github.com/Chezo25/Krate-it/internal/storage"
)

// Service implements the hierarchy operations over GORM and a blob store.
type Service struct {
	db       *gorm.DB
	blobs    storage.BlobStore
	activity *activity.Log
	metrics  *metrics.Metrics
}

func NewService(db *gorm.DB, blobs storage.BlobStore, log *activity.Log, m *metrics.Metrics) *Service {
	return &Service{db: db, blobs: blobs, activity: log, metrics: m}
}

// Breadcrumb is one element of a folder's ancestry. The synthetic root entry
// has a nil ID.
type Breadcrumb struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
	Path string  `json:"path"`
}

// CreateFileParams carries the upload input. MimeType may be empty, in which
// case it is sniffed from the content.
type CreateFileParams struct {
	Name     string
	MimeType string
	FolderID *string
	Tags     []string
	Content  io.Reader
}

// ListFolders returns the immediate child folders of parentID (roots when
// nil) owned by userID, newest first.
func (s *Service) ListFolders(ctx context.Context, userID string, parentID *string, limit, offset int) ([]models.Folder, error) {
	query := s.scopedList(ctx, userID, limit, offset).Model(&models.Folder{})
	if parentID != nil {
		query = query.Where("parent_id = ?", *parentID)
	} else {
		query = query.Where("parent_id IS NULL")
	}

	var folders []models.Folder
	if err := query.Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	return folders, nil
}

// ListFiles returns the files in folderID (root level when nil) owned by
// userID, newest first.
func (s *Service) ListFiles(ctx context.Context, userID string, folderID *string, limit, offset int) ([]models.File, error) {
	query := s.scopedList(ctx, userID, limit, offset).Model(&models.File{})
	if folderID != nil {
		query = query.Where("folder_id = ?", *folderID)
	} else {
		query = query.Where("folder_id IS NULL")
	}

	var files []models.File
	if err := query.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

func (s *Service) scopedList(ctx context.Context, userID string, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset)
}

// GetFolder loads a folder and enforces ownership.
func (s *Service) GetFolder(ctx context.Context, userID, folderID string) (*models.Folder, error) {
	var folder models.Folder
	if err := s.db.WithContext(ctx).First(&folder, "id = ?", folderID).Error; err != nil {
		return nil, notFoundOr(err, "folder", folderID)
	}
	if err := models.Authorize(userID, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// GetFile loads a file and enforces ownership.
func (s *Service) GetFile(ctx context.Context, userID, fileID string) (*models.File, error) {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, "id = ?", fileID).Error; err != nil {
		return nil, notFoundOr(err, "file", fileID)
	}
	if err := models.Authorize(userID, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// CreateFolder creates a folder under parentID (root when nil). The folder's
// path is materialized from the parent at this moment and never recomputed.
func (s *Service) CreateFolder(ctx context.Context, userID, name string, parentID *string) (folder *models.Folder, err error) {
	defer func() { s.metrics.Operation(models.ActionCreateFolder, err) }()

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name is required: %w", apperr.ErrInvalidArgument)
	}

	path := "/"
	if parentID != nil {
		parent, perr := s.GetFolder(ctx, userID, *parentID)
		if perr != nil {
			return nil, perr
		}
		path = parent.Path + parent.Name + "/"
	}

	folder = &models.Folder{
		Name:     name,
		ParentID: parentID,
		OwnerID:  userID,
		Path:     path,
	}
	if err = s.db.WithContext(ctx).Create(folder).Error; err != nil {
		return nil, fmt.Errorf("creating folder: %w", err)
	}

	s.activity.Record(ctx, userID, models.ActionCreateFolder, folder.ID, folder.Name, models.ResourceTypeFolder, "")
	return folder, nil
}

// CreateFile uploads a file. The target folder is checked first, the blob is
// written second, and the record is created last, so a failure at any step
// leaves at worst an orphaned blob and never a record without one.
func (s *Service) CreateFile(ctx context.Context, userID string, p CreateFileParams) (file *models.File, err error) {
	defer func() { s.metrics.Operation(models.ActionUpload, err) }()

	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("file name is required: %w", apperr.ErrInvalidArgument)
	}
	if p.Content == nil {
		return nil, fmt.Errorf("file content is required: %w", apperr.ErrInvalidArgument)
	}

	path := "/"
	if p.FolderID != nil {
		folder, ferr := s.GetFolder(ctx, userID, *p.FolderID)
		if ferr != nil {
			return nil, ferr
		}
		path = folder.Path + folder.Name + "/"
	}

	content := p.Content
	mimeType := p.MimeType
	if mimeType == "" {
		header := make([]byte, 3072)
		n, rerr := io.ReadFull(content, header)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reading upload: %w", apperr.ErrBlobWrite)
		}
		header = header[:n]
		mimeType = mimetype.Detect(header).String()
		content = io.MultiReader(bytes.NewReader(header), content)
	}

	storageID, size, err := s.blobs.Put(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", apperr.ErrBlobWrite)
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	file = &models.File{
		Name:         p.Name,
		OriginalName: p.Name,
		Size:         size,
		MimeType:     mimeType,
		StorageID:    storageID,
		FolderID:     p.FolderID,
		OwnerID:      userID,
		Path:         path,
		Tags:         tags,
	}
	if err = s.db.WithContext(ctx).Create(file).Error; err != nil {
		// The blob is orphaned if this cleanup fails, which is harmless.
		if derr := s.blobs.Delete(ctx, storageID); derr != nil {
			logger.Warn("failed to clean up blob %s after record failure: %v", storageID, derr)
		}
		return nil, fmt.Errorf("creating file record: %w", err)
	}

	s.metrics.UploadedBytes(size)
	s.activity.Record(ctx, userID, models.ActionUpload, file.ID, file.Name, models.ResourceTypeFile, "")
	return file, nil
}

// RenameFolder updates the folder's name only. Its own path and the paths of
// everything beneath it are left as they were.
func (s *Service) RenameFolder(ctx context.Context, userID, folderID, newName string) (folder *models.Folder, err error) {
	defer func() { s.metrics.Operation(models.ActionRenameFolder, err) }()

	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("new name is required: %w", apperr.ErrInvalidArgument)
	}

	folder, err = s.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}

	oldName := folder.Name
	folder.Name = newName
	if err = s.db.WithContext(ctx).Model(folder).Update("name", newName).Error; err != nil {
		return nil, fmt.Errorf("renaming folder: %w", err)
	}

	s.activity.Record(ctx, userID, models.ActionRenameFolder, folder.ID, folder.Name, models.ResourceTypeFolder,
		fmt.Sprintf("renamed from %q", oldName))
	return folder, nil
}

// RenameFile updates the file's name only.
func (s *Service) RenameFile(ctx context.Context, userID, fileID, newName string) (file *models.File, err error) {
	defer func() { s.metrics.Operation(models.ActionRename, err) }()

	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("new name is required: %w", apperr.ErrInvalidArgument)
	}

	file, err = s.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	oldName := file.Name
	file.Name = newName
	if err = s.db.WithContext(ctx).Model(file).Update("name", newName).Error; err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}

	s.activity.Record(ctx, userID, models.ActionRename, file.ID, file.Name, models.ResourceTypeFile,
		fmt.Sprintf("renamed from %q", oldName))
	return file, nil
}

// DeleteFile removes the blob first and the record second. A crash in
// between leaves a record whose blob is gone; Download surfaces that as not
// found, and a retried delete treats the absent blob as already removed so
// the record can still be cleaned up.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) (err error) {
	defer func() { s.metrics.Operation(models.ActionDelete, err) }()

	file, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}

	if err = s.blobs.Delete(ctx, file.StorageID); err != nil {
		if !errors.Is(err, storage.ErrNotExist) {
			return fmt.Errorf("deleting blob %s: %w", file.StorageID, apperr.ErrInternal)
		}
		logger.Warn("blob %s for file %s was already gone", file.StorageID, file.ID)
		err = nil
	}

	if err = s.db.WithContext(ctx).Delete(&models.File{}, "id = ?", file.ID).Error; err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}

	s.activity.Record(ctx, userID, models.ActionDelete, file.ID, file.Name, models.ResourceTypeFile, "")
	return nil
}

// DeleteFolder removes only the folder record. Children are not cascaded;
// they keep their parent reference and become unreachable through browsing.
func (s *Service) DeleteFolder(ctx context.Context, userID, folderID string) (err error) {
	defer func() { s.metrics.Operation(models.ActionDeleteFolder, err) }()

	folder, err := s.GetFolder(ctx, userID, folderID)
	if err != nil {
		return err
	}

	if err = s.db.WithContext(ctx).Delete(&models.Folder{}, "id = ?", folder.ID).Error; err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}

	s.activity.Record(ctx, userID, models.ActionDeleteFolder, folder.ID, folder.Name, models.ResourceTypeFolder, "")
	return nil
}

// Path walks parent links from folderID up to a root and returns the
// breadcrumb, starting with the synthetic Home entry. The walk is O(depth);
// parents are fixed at creation so no cycle can exist.
func (s *Service) Path(ctx context.Context, userID, folderID string) ([]Breadcrumb, error) {
	var crumbs []Breadcrumb

	current := &folderID
	for current != nil {
		folder, err := s.GetFolder(ctx, userID, *current)
		if err != nil {
			return nil, err
		}
		id := folder.ID
		crumbs = append([]Breadcrumb{{ID: &id, Name: folder.Name, Path: folder.Path}}, crumbs...)
		current = folder.ParentID
	}

	home := Breadcrumb{ID: nil, Name: "Home", Path: "/"}
	return append([]Breadcrumb{home}, crumbs...), nil
}

// Download opens the file's blob. The caller must either own the file or the
// file must be explicitly shared; the fine-grained token check for public
// links lives in the share manager.
func (s *Service) Download(ctx context.Context, userID, fileID string) (file *models.File, rc io.ReadCloser, err error) {
	defer func() { s.metrics.Operation(models.ActionDownload, err) }()

	var f models.File
	if err = s.db.WithContext(ctx).First(&f, "id = ?", fileID).Error; err != nil {
		return nil, nil, notFoundOr(err, "file", fileID)
	}

	if f.OwnerID != userID && !f.IsShared {
		return nil, nil, fmt.Errorf("file %s is not shared: %w", fileID, apperr.ErrForbidden)
	}

	rc, err = s.blobs.Get(ctx, f.StorageID)
	if err != nil {
		// A record whose blob is gone is a tombstone left by an interrupted
		// delete.
		return nil, nil, fmt.Errorf("blob for file %s is missing: %w", fileID, apperr.ErrNotFound)
	}

	s.activity.Record(ctx, userID, models.ActionDownload, f.ID, f.Name, models.ResourceTypeFile, "")
	return &f, rc, nil
}

// SearchResults groups name-matched files and folders.
type SearchResults struct {
	Files   []models.File   `json:"files"`
	Folders []models.Folder `json:"folders"`
}

// Search matches file and folder names by substring. kind narrows the search
// to "files" or "folders"; anything else searches both.
func (s *Service) Search(ctx context.Context, userID, term, kind string, limit int) (*SearchResults, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("search query is required: %w", apperr.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + term + "%"
	results := &SearchResults{Files: []models.File{}, Folders: []models.Folder{}}

	if kind != "folders" {
		err := s.db.WithContext(ctx).
			Where("owner_id = ? AND name LIKE ?", userID, pattern).
			Order("created_at desc").
			Limit(limit).
			Find(&results.Files).Error
		if err != nil {
			return nil, fmt.Errorf("searching files: %w", err)
		}
	}

	if kind != "files" {
		err := s.db.WithContext(ctx).
			Where("owner_id = ? AND name LIKE ?", userID, pattern).
			Order("created_at desc").
			Limit(limit).
			Find(&results.Folders).Error
		if err != nil {
			return nil, fmt.Errorf("searching folders: %w", err)
		}
	}

	return results, nil
}

// AdvancedSearchParams narrows a file search. Every field is optional; zero
// values mean no filter.
type AdvancedSearchParams struct {
	Query     string
	FileTypes []string
	SizeMin   *int64
	SizeMax   *int64
	DateFrom  *time.Time
	DateTo    *time.Time
	FolderID  *string
	Tags      []string
	Limit     int
}

// AdvancedSearchResults holds a filtered page of files and the total match
// count before the limit was applied.
type AdvancedSearchResults struct {
	Files []models.File `json:"files"`
	Total int64         `json:"total"`
}

// AdvancedSearch filters the user's files by any combination of name
// substring, mime type, size range, creation date range, folder, and tags.
// Mime types match by substring so "image" covers every image/* subtype.
func (s *Service) AdvancedSearch(ctx context.Context, userID string, p AdvancedSearchParams) (*AdvancedSearchResults, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.File{}).Where("owner_id = ?", userID)

	if term := strings.TrimSpace(p.Query); term != "" {
		query = query.Where("name LIKE ?", "%"+term+"%")
	}
	if p.FolderID != nil {
		query = query.Where("folder_id = ?", *p.FolderID)
	}
	if len(p.FileTypes) > 0 {
		types := s.db.Where("mime_type LIKE ?", "%"+p.FileTypes[0]+"%")
		for _, t := range p.FileTypes[1:] {
			types = types.Or("mime_type LIKE ?", "%"+t+"%")
		}
		query = query.Where(types)
	}
	if p.SizeMin != nil {
		query = query.Where("size >= ?", *p.SizeMin)
	}
	if p.SizeMax != nil {
		query = query.Where("size <= ?", *p.SizeMax)
	}
	if p.DateFrom != nil {
		query = query.Where("created_at >= ?", *p.DateFrom)
	}
	if p.DateTo != nil {
		query = query.Where("created_at <= ?", *p.DateTo)
	}
	if len(p.Tags) > 0 {
		// Tags live in a JSON array column; match on the quoted element.
		tags := s.db.Where("tags LIKE ?", `%"`+p.Tags[0]+`"%`)
		for _, tag := range p.Tags[1:] {
			tags = tags.Or("tags LIKE ?", `%"`+tag+`"%`)
		}
		query = query.Where(tags)
	}

	query = query.Session(&gorm.Session{})

	results := &AdvancedSearchResults{Files: []models.File{}}
	if err := query.Count(&results.Total).Error; err != nil {
		return nil, fmt.Errorf("counting search matches: %w", err)
	}
	err := query.Order("created_at desc").Limit(p.Limit).Find(&results.Files).Error
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	return results, nil
}

// Recent returns the user's newest files across all folders.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]models.File, error) {
	if limit <= 0 {
		limit = 10
	}

	var files []models.File
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("listing recent files: %w", err)
	}
	return files, nil
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("loading %s %s: %w", kind, id, err)
}
