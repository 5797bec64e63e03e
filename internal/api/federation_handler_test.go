package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"mediarepo/internal/repository"
	"mediarepo/internal/service"
	"mediarepo/internal/storage"

	"github.com/go-chi/chi/v5"
)

// smallPNG 是一张最小的 1x1 PNG，用于验证二进制内容原样透传。
var smallPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0xfc, 0xcf, 0xc0, 0x50,
	0x0f, 0x00, 0x04, 0x85, 0x01, 0x80, 0x84, 0xa9,
	0x8c, 0x21, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45,
	0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type memoryMediaRepo struct {
	mu      sync.Mutex
	records map[string]*repository.MediaRecord
}

func newMemoryMediaRepo() *memoryMediaRepo {
	return &memoryMediaRepo{records: make(map[string]*repository.MediaRecord)}
}

func (m *memoryMediaRepo) Create(ctx context.Context, record *repository.MediaRecord) (*repository.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.MediaID] = record
	return record, nil
}

func (m *memoryMediaRepo) GetByID(ctx context.Context, mediaID string) (*repository.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[mediaID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

func (m *memoryMediaRepo) List(ctx context.Context, params repository.ListMediaParams) ([]repository.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.MediaRecord
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out, nil
}

func newFederationEnv(t *testing.T, enabled bool) (*service.MediaStorage, http.Handler) {
	t.Helper()

	svc := service.NewMediaStorage(newMemoryMediaRepo(), t.TempDir(), nil, nil)
	handler := NewFederationHandler(svc, enabled, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return svc, r
}

func doFederationDownload(t *testing.T, router http.Handler, mediaID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/federation/v1/media/download/"+mediaID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// readParts 按响应头里的 boundary 解析 multipart 正文，返回有序的
// (content-type, body) 对。
func readParts(t *testing.T, rec *httptest.ResponseRecorder) [][2][]byte {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content type: %v", err)
	}
	if mediaType != "multipart/mixed" {
		t.Fatalf("expected multipart/mixed, got %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		t.Fatal("response is missing a multipart boundary")
	}

	reader := multipart.NewReader(rec.Body, boundary)
	var parts [][2][]byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("read part body: %v", err)
		}
		parts = append(parts, [2][]byte{[]byte(part.Header.Get("Content-Type")), body})
	}
	return parts
}

func decodeErrcode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Errcode string `json:"errcode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Errcode
}

func TestFederationDownload_TextFile(t *testing.T) {
	svc, router := newFederationEnv(t, true)

	mediaID, err := svc.CreateContent(context.Background(), "text/plain", "test_upload", bytes.NewReader([]byte("file_to_stream")), 46, "@user_id:whatever.org")
	if err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	rec := doFederationDownload(t, router, mediaID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	parts := readParts(t, rec)
	if len(parts) != 2 {
		t.Fatalf("expected exactly 2 parts, got %d", len(parts))
	}
	if string(parts[0][0]) != "application/json" {
		t.Fatalf("first part content type: %s", parts[0][0])
	}
	if string(parts[0][1]) != "{}" {
		t.Fatalf("metadata part must be the empty object, got %q", parts[0][1])
	}
	if string(parts[1][0]) != "text/plain" {
		t.Fatalf("second part content type: %s", parts[1][0])
	}
	if string(parts[1][1]) != "file_to_stream" {
		t.Fatalf("second part body: %q", parts[1][1])
	}
}

func TestFederationDownload_PNGBytesUnmodified(t *testing.T) {
	svc, router := newFederationEnv(t, true)

	mediaID, err := svc.CreateContent(context.Background(), "image/png", "test_png_upload", bytes.NewReader(smallPNG), 67, "@user_id:whatever.org")
	if err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	rec := doFederationDownload(t, router, mediaID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	parts := readParts(t, rec)
	if len(parts) != 2 {
		t.Fatalf("expected exactly 2 parts, got %d", len(parts))
	}
	if string(parts[1][0]) != "image/png" {
		t.Fatalf("content part type: %s", parts[1][0])
	}
	if !bytes.Equal(parts[1][1], smallPNG) {
		t.Fatal("png bytes were modified in transit")
	}
}

func TestFederationDownload_DisabledReturnsUnrecognized(t *testing.T) {
	svc, router := newFederationEnv(t, false)

	// 即便内容确实存在，关闭特性后也必须表现为未识别
	mediaID, err := svc.CreateContent(context.Background(), "text/plain", "test_upload", bytes.NewReader([]byte("file_to_stream")), 46, "@user_id:whatever.org")
	if err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	rec := doFederationDownload(t, router, mediaID)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrcode(t, rec); code != "M_UNRECOGNIZED" {
		t.Fatalf("expected M_UNRECOGNIZED, got %s", code)
	}
}

func TestFederationDownload_UnknownIDReturnsNotFound(t *testing.T) {
	_, router := newFederationEnv(t, true)

	rec := doFederationDownload(t, router, "doesnotexist1234")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrcode(t, rec); code != "M_NOT_FOUND" {
		t.Fatalf("expected M_NOT_FOUND, got %s", code)
	}
}

func TestFederationDownload_IncompatibleProviderDegrades(t *testing.T) {
	// 能力契约不匹配的后端在加载时被拒绝，端点整体降级而不是报 5xx
	storage.Register("api-test-incompatible", func(ctx context.Context, raw json.RawMessage) (any, error) {
		return struct{ Directory string }{}, nil
	})

	providers, complete := storage.BuildProviders(context.Background(), []storage.ProviderConfig{
		{Module: "api-test-incompatible", StoreLocal: true},
	}, nil)
	if complete {
		t.Fatal("incompatible provider should mark the chain incomplete")
	}

	// 配置开关为开，但后端链不完整，端点仍需整体降级
	flagEnabled := true
	svc := service.NewMediaStorage(newMemoryMediaRepo(), t.TempDir(), providers, nil)
	handler := NewFederationHandler(svc, flagEnabled && complete, nil)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	rec := doFederationDownload(t, r, "xyz")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := decodeErrcode(t, rec); code != "M_UNRECOGNIZED" {
		t.Fatalf("expected M_UNRECOGNIZED, got %s", code)
	}
}

// faultyMediaRepo 模拟元数据存储故障，每个操作都返回同一个底层错误。
type faultyMediaRepo struct {
	err error
}

func (f *faultyMediaRepo) Create(ctx context.Context, record *repository.MediaRecord) (*repository.MediaRecord, error) {
	return nil, f.err
}

func (f *faultyMediaRepo) GetByID(ctx context.Context, mediaID string) (*repository.MediaRecord, error) {
	return nil, f.err
}

func (f *faultyMediaRepo) List(ctx context.Context, params repository.ListMediaParams) ([]repository.MediaRecord, error) {
	return nil, f.err
}

// 存储层故障与内容不存在是两回事：前者必须报 500 M_UNKNOWN，
// 不能伪装成 404 误导对端缓存否定结果。
func TestFederationDownload_MetadataFailureReturnsUnknown(t *testing.T) {
	repo := &faultyMediaRepo{err: errors.New("connection refused")}
	svc := service.NewMediaStorage(repo, t.TempDir(), nil, nil)
	handler := NewFederationHandler(svc, true, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	rec := doFederationDownload(t, r, "abcdefgh12345678")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := decodeErrcode(t, rec); code != "M_UNKNOWN" {
		t.Fatalf("expected M_UNKNOWN, got %s", code)
	}
}

func TestFederationDownload_ConcurrentDownloads(t *testing.T) {
	svc, router := newFederationEnv(t, true)

	payload := bytes.Repeat([]byte("concurrent-content-"), 512)
	mediaID, err := svc.CreateContent(context.Background(), "application/octet-stream", "", bytes.NewReader(payload), int64(len(payload)), "@u:s")
	if err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	const downloads = 8
	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, downloads)

	for i := 0; i < downloads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/federation/v1/media/download/"+mediaID, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			recorders[i] = rec
		}(i)
	}
	wg.Wait()

	for i, rec := range recorders {
		if rec.Code != http.StatusOK {
			t.Fatalf("download %d: expected 200, got %d", i, rec.Code)
		}
		parts := readParts(t, rec)
		if len(parts) != 2 {
			t.Fatalf("download %d: expected 2 parts, got %d", i, len(parts))
		}
		if !bytes.Equal(parts[1][1], payload) {
			t.Fatalf("download %d: content corrupted", i)
		}
	}
}
