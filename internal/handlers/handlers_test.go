package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/activity"
	"github.com/Chezo25/Krate-it/internal/auth"
	"github.com/Chezo25/Krate-it/internal/hierarchy"
	"github.com/Chezo25/Krate-it/internal/models"
	"github.com/Chezo25/Krate-it/internal/share"
	"github.com/Chezo25/Krate-it/internal/storage"
)

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Folder{},
		&models.File{},
		&models.Share{},
		&models.Activity{},
	))

	log := activity.NewLog(db, nil)
	svc := hierarchy.NewService(db, storage.NewMemoryStorage(), log, nil)
	shares := share.NewManager(db, log, nil, "https://krate.example.com")

	e := echo.New()
	NewHandler(svc, shares, log).Register(e, &auth.StaticVerifier{Tokens: map[string]string{
		aliceToken: "alice",
		bobToken:   "bob",
	}})
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func uploadFile(t *testing.T, e *echo.Echo, token, name, content, folderID string, tags ...string) models.File {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if folderID != "" {
		require.NoError(t, w.WriteField("folderId", folderID))
	}
	if len(tags) > 0 {
		require.NoError(t, w.WriteField("tags", strings.Join(tags, ",")))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var file models.File
	require.NoError(t, json.Unmarshal(env.Data, &file))
	return file
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAPIRequiresAuth(t *testing.T) {
	e := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/api/files", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFolderLifecycle(t *testing.T) {
	e := newTestServer(t)

	rec, env := do(t, e, http.MethodPost, "/api/folders", aliceToken, map[string]any{"name": "Docs"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, env.Success)

	var folder models.Folder
	require.NoError(t, json.Unmarshal(env.Data, &folder))
	assert.Equal(t, "Docs", folder.Name)
	assert.Equal(t, "/", folder.Path)

	rec, env = do(t, e, http.MethodPost, "/api/folders", aliceToken, map[string]any{
		"name":      "2024",
		"parent_id": folder.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var sub models.Folder
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, "/Docs/", sub.Path)

	rec, env = do(t, e, http.MethodGet, "/api/folders/"+sub.ID+"/path", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var crumbs []hierarchy.Breadcrumb
	require.NoError(t, json.Unmarshal(env.Data, &crumbs))
	require.Len(t, crumbs, 3)
	assert.Equal(t, "Home", crumbs[0].Name)

	rec, env = do(t, e, http.MethodPatch, "/api/folders/"+folder.ID+"/rename", aliceToken, map[string]any{"new_name": "Documents"})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed models.Folder
	require.NoError(t, json.Unmarshal(env.Data, &renamed))
	assert.Equal(t, "Documents", renamed.Name)

	rec, env = do(t, e, http.MethodDelete, "/api/folders/"+folder.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Folder deleted successfully", env.Message)

	rec, _ = do(t, e, http.MethodGet, "/api/folders/"+folder.ID, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAndDownload(t *testing.T) {
	e := newTestServer(t)

	file := uploadFile(t, e, aliceToken, "greeting.txt", "hello over http", "")
	assert.Equal(t, "greeting.txt", file.Name)
	assert.EqualValues(t, len("hello over http"), file.Size)

	rec, _ := do(t, e, http.MethodGet, "/api/files/"+file.ID+"/download", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello over http", rec.Body.String())
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))

	rec, _ = do(t, e, http.MethodGet, "/api/files/"+file.ID+"/download?download=true", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "greeting.txt")
}

func TestUpload_MissingFilePart(t *testing.T) {
	e := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("folderId", "whatever"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnershipOverHTTP(t *testing.T) {
	e := newTestServer(t)

	file := uploadFile(t, e, aliceToken, "private.txt", "secret", "")

	rec, _ := do(t, e, http.MethodGet, "/api/files/"+file.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, e, http.MethodDelete, "/api/files/"+file.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Still intact for the owner.
	rec, _ = do(t, e, http.MethodGet, "/api/files/"+file.ID, aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShareFlowOverHTTP(t *testing.T) {
	e := newTestServer(t)

	file := uploadFile(t, e, aliceToken, "shared.txt", "shared content", "")

	rec, env := do(t, e, http.MethodPost, "/api/sharing", aliceToken, map[string]any{
		"resource_id":   file.ID,
		"resource_type": "file",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		Share    models.Share `json:"share"`
		ShareURL string       `json:"share_url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.Share.Token)
	assert.Contains(t, created.ShareURL, "/shared/"+created.Share.Token)

	// The landing route is public.
	rec, env = do(t, e, http.MethodGet, "/api/sharing/"+created.Share.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = do(t, e, http.MethodGet, "/api/sharing/0000000000000000000000000000000000000000000000000000000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, e, http.MethodDelete, "/api/sharing/"+created.Share.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Share deleted successfully", env.Message)

	rec, _ = do(t, e, http.MethodGet, "/api/sharing/"+created.Share.Token, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchAndRecentOverHTTP(t *testing.T) {
	e := newTestServer(t)

	uploadFile(t, e, aliceToken, "report-2024.pdf", "x", "")
	uploadFile(t, e, aliceToken, "notes.txt", "x", "")

	rec, env := do(t, e, http.MethodGet, "/api/search?q=report", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results hierarchy.SearchResults
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results.Files, 1)
	assert.Equal(t, "report-2024.pdf", results.Files[0].Name)

	rec, _ = do(t, e, http.MethodGet, "/api/search", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, e, http.MethodGet, "/api/search/recent?limit=1", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []models.File
	require.NoError(t, json.Unmarshal(env.Data, &recent))
	assert.Len(t, recent, 1)
}

func TestAdvancedSearchOverHTTP(t *testing.T) {
	e := newTestServer(t)

	tagged := uploadFile(t, e, aliceToken, "holiday.jpg", "xxxxx", "", "travel", "family")
	assert.Equal(t, []string{"travel", "family"}, tagged.Tags)
	uploadFile(t, e, aliceToken, "report.pdf", "x", "", "work")
	uploadFile(t, e, aliceToken, "notes.txt", "x", "")

	rec, env := do(t, e, http.MethodPost, "/api/search/advanced", aliceToken, map[string]any{
		"tags": []string{"travel"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results hierarchy.AdvancedSearchResults
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results.Files, 1)
	assert.Equal(t, tagged.ID, results.Files[0].ID)
	assert.EqualValues(t, 1, results.Total)

	rec, env = do(t, e, http.MethodPost, "/api/search/advanced", aliceToken, map[string]any{
		"size_min": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results.Files, 1)
	assert.Equal(t, "holiday.jpg", results.Files[0].Name)

	// No filters returns everything the caller owns.
	rec, env = do(t, e, http.MethodPost, "/api/search/advanced", aliceToken, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.EqualValues(t, 3, results.Total)

	rec, _ = do(t, e, http.MethodPost, "/api/search/advanced", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActivityOverHTTP(t *testing.T) {
	e := newTestServer(t)

	file := uploadFile(t, e, aliceToken, "audited.txt", "x", "")
	rec, _ := do(t, e, http.MethodDelete, "/api/files/"+file.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, e, http.MethodGet, "/api/activity", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Documents []models.Activity `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Documents, 2)

	actions := []string{page.Documents[0].Action, page.Documents[1].Action}
	assert.Contains(t, actions, models.ActionUpload)
	assert.Contains(t, actions, models.ActionDelete)
}

func TestListFilesPagination(t *testing.T) {
	e := newTestServer(t)

	for i := 0; i < 3; i++ {
		uploadFile(t, e, aliceToken, fmt.Sprintf("file-%d.txt", i), "x", "")
	}

	rec, env := do(t, e, http.MethodGet, "/api/files?limit=2", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Documents []models.File `json:"documents"`
		Limit     int           `json:"limit"`
		Offset    int           `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Documents, 2)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 0, page.Offset)

	// Oversized client limits are capped.
	rec, env = do(t, e, http.MethodGet, "/api/files?limit=1000000000", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 100, page.Limit)
}
