package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"saleschat/internal/app"
	"saleschat/internal/ownership"
	"saleschat/internal/ownertoken"
	"saleschat/internal/session"
	"saleschat/internal/visitors"
	"saleschat/pkg/store"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]struct{}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string]struct{})
	}
	f.objects[key] = struct{}{}
	return "https://files.example.com/sales-uploads/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type stubAnalyst struct {
	reply string
	err   error
}

func (s stubAnalyst) Answer(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

func newTestServer(t *testing.T, policyName string, analyst session.AnswerClient) (*Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	policy, err := ownership.Resolve(policyName)
	if err != nil {
		t.Fatalf("resolve policy: %v", err)
	}
	a, err := app.New(app.Config{Store: mem, Objects: &fakeObjectStore{}, Policy: policy})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	binder, err := session.New(mem, analyst)
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	srv, err := New(Config{App: a, Binder: binder, Visitors: visitors.New(mem)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, mem
}

func multipartBody(t *testing.T, field, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + filename + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doJSON(t *testing.T, handler http.Handler, req *http.Request, want int) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != want {
		t.Fatalf("%s %s: status %d, want %d; body %s", req.Method, req.URL.Path, rr.Code, want, rr.Body.String())
	}
	var out map[string]any
	if len(bytes.TrimSpace(rr.Body.Bytes())) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func uploadCSV(t *testing.T, handler http.Handler, filename, content string) (fileID, url string) {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, "text/csv", content)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	out := doJSON(t, handler, req, http.StatusOK)
	if out["message"] != "File uploaded successfully!" {
		t.Fatalf("unexpected upload message: %v", out["message"])
	}
	fileID, _ = out["fileId"].(string)
	url, _ = out["url"].(string)
	if fileID == "" || url == "" {
		t.Fatalf("upload response missing fileId/url: %v", out)
	}
	return fileID, url
}

func TestUploadThenFetchURLByID(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	fileID, url := uploadCSV(t, handler, "sales.csv", "month,revenue\nMay,12400\n")

	out := doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/url/"+fileID, nil), http.StatusOK)
	if out["url"] != url {
		t.Fatalf("stored url %v differs from upload response %q", out["url"], url)
	}

	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/urls", nil), http.StatusOK)
	urls, ok := out["urls"].([]any)
	if !ok || len(urls) != 1 || urls[0] != url {
		t.Fatalf("unexpected urls listing: %v", out)
	}
}

func TestUploadRejectsNonCSVWithExactMessage(t *testing.T) {
	srv, mem := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	body, contentType := multipartBody(t, "file", "report.pdf", "application/pdf", "%PDF-1.4")
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	out := doJSON(t, handler, req, http.StatusBadRequest)
	if out["message"] != "Only CSV files are allowed." {
		t.Fatalf("unexpected rejection message: %v", out)
	}
	if files, _ := mem.ListFiles(store.Listing{}); len(files) != 0 {
		t.Fatal("rejected upload must not create a record")
	}
}

func TestUploadWithoutFileField(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	body, contentType := multipartBody(t, "document", "sales.csv", "text/csv", "a\n1\n")
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	out := doJSON(t, handler, req, http.StatusBadRequest)
	if out["message"] != "File is required." {
		t.Fatalf("unexpected message: %v", out)
	}
}

func TestUploadOverSizeLimitReturns413(t *testing.T) {
	mem := store.NewMemoryStore()
	policy, _ := ownership.Resolve(ownership.PolicyNone)
	a, err := app.New(app.Config{Store: mem, Objects: &fakeObjectStore{}, Policy: policy})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	binder, err := session.New(mem, nil)
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	srv, err := New(Config{App: a, Binder: binder, MaxUploadBytes: 256})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	handler := srv.Router()

	body, contentType := multipartBody(t, "file", "big.csv", "text/csv", strings.Repeat("a,b\n", 512))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	out := doJSON(t, handler, req, http.StatusRequestEntityTooLarge)
	if out["message"] != "File is too large." {
		t.Fatalf("unexpected body: %v", out)
	}
	if files, _ := mem.ListFiles(store.Listing{}); len(files) != 0 {
		t.Fatal("oversized upload must not create a record")
	}
}

func TestGetURLNotFound(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	out := doJSON(t, srv.Router(), httptest.NewRequest(http.MethodGet, "/api/files/url/missing-id", nil), http.StatusNotFound)
	if out["error"] != "File not found" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestFindFileValidationAndLookup(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	out := doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/file", nil), http.StatusBadRequest)
	if out["message"] != "At least one search parameter (fileName, fileUrl, or fileId) is required" {
		t.Fatalf("unexpected validation message: %v", out)
	}

	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/file?fileName=ghost.csv", nil), http.StatusNotFound)
	if out["message"] != "File not found" {
		t.Fatalf("unexpected miss body: %v", out)
	}

	fileID, _ := uploadCSV(t, handler, "sales.csv", "a,b\n1,2\n")
	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/file?fileName=sales.csv", nil), http.StatusOK)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	data, ok := out["data"].(map[string]any)
	if !ok || data["id"] != fileID {
		t.Fatalf("unexpected data: %v", out)
	}
}

func TestDeleteFile(t *testing.T) {
	srv, mem := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	fileID, _ := uploadCSV(t, handler, "sales.csv", "a\n1\n")

	out := doJSON(t, handler, httptest.NewRequest(http.MethodDelete, "/api/files/"+fileID, nil), http.StatusOK)
	if out["message"] != "File deleted successfully" {
		t.Fatalf("unexpected body: %v", out)
	}
	file, ok := out["file"].(map[string]any)
	if !ok || file["fileName"] != "sales.csv" {
		t.Fatalf("response should carry the deleted record: %v", out)
	}
	if files, _ := mem.ListFiles(store.Listing{}); len(files) != 0 {
		t.Fatal("record should be gone")
	}

	out = doJSON(t, handler, httptest.NewRequest(http.MethodDelete, "/api/files/"+fileID, nil), http.StatusNotFound)
	if out["error"] != "File not found" {
		t.Fatalf("unexpected second-delete body: %v", out)
	}
}

func TestPerOwnerListingUsesCookie(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyPerOwner, nil)
	handler := srv.Router()

	// Browser A uploads with its cookie.
	body, contentType := multipartBody(t, "file", "alpha.csv", "text/csv", "a\n1\n")
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(&http.Cookie{Name: ownertoken.CookieName, Value: "browser-a"})
	uploadOut := doJSON(t, handler, req, http.StatusOK)
	wantURL := uploadOut["url"]

	// Browser A sees its upload.
	listReq := httptest.NewRequest(http.MethodGet, "/api/files/urls", nil)
	listReq.AddCookie(&http.Cookie{Name: ownertoken.CookieName, Value: "browser-a"})
	out := doJSON(t, handler, listReq, http.StatusOK)
	urls, _ := out["urls"].([]any)
	if len(urls) != 1 || urls[0] != wantURL {
		t.Fatalf("browser A should see its upload: %v", out)
	}

	// Browser B sees nothing.
	otherReq := httptest.NewRequest(http.MethodGet, "/api/files/urls", nil)
	otherReq.AddCookie(&http.Cookie{Name: ownertoken.CookieName, Value: "browser-b"})
	out = doJSON(t, handler, otherReq, http.StatusOK)
	if urls, _ := out["urls"].([]any); len(urls) != 0 {
		t.Fatalf("browser B should see no files: %v", out)
	}

	// The dedicated browser listing agrees.
	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/files/browser/browser-a", nil), http.StatusOK)
	files, _ := out["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("browser listing should have one file: %v", out)
	}
}

func TestChatFlowAndHistory(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, stubAnalyst{reply: "May revenue was 12,400."})
	handler := srv.Router()

	fileID, _ := uploadCSV(t, handler, "sales.csv", "month,revenue\nMay,12400\n")

	payload, _ := json.Marshal(map[string]string{
		"message":   "how were sales in May?",
		"fileId":    fileID,
		"timestamp": "10:01",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	out := doJSON(t, handler, req, http.StatusOK)
	if out["response"] != "May revenue was 12,400." {
		t.Fatalf("unexpected chat response: %v", out)
	}

	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/chat/history/"+fileID, nil), http.StatusOK)
	msgs, ok := out["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected user+bot history, got %v", out)
	}
	first, _ := msgs[0].(map[string]any)
	if first["sender"] != "user" || first["text"] != "how were sales in May?" {
		t.Fatalf("unexpected first message: %v", first)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/chat/history/"+fileID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear history: status %d", rr.Code)
	}
	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/chat/history/"+fileID, nil), http.StatusOK)
	if msgs, _ := out["messages"].([]any); len(msgs) != 0 {
		t.Fatalf("history should be empty after clear: %v", out)
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, stubAnalyst{reply: "ok"})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"fileId":"f1"}`))
	doJSON(t, handler, req, http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	doJSON(t, handler, req, http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not json"))
	doJSON(t, handler, req, http.StatusBadRequest)
}

func TestChatAnalystFailureMapsToGatewayErrors(t *testing.T) {
	srv, mem := newTestServer(t, ownership.PolicyNone, stubAnalyst{err: errors.New("refused")})
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","fileId":"f1"}`))
	doJSON(t, handler, req, http.StatusBadGateway)

	// The failed exchange is still recorded, with an error-flagged reply.
	msgs, _ := mem.History("f1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 recorded messages, got %d", len(msgs))
	}
	if !msgs[1].IsError {
		t.Fatalf("bot message should be error-flagged: %+v", msgs[1])
	}

	timeoutSrv, _ := newTestServer(t, ownership.PolicyNone, stubAnalyst{err: context.DeadlineExceeded})
	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi","fileId":"f1"}`))
	doJSON(t, timeoutSrv.Router(), req, http.StatusGatewayTimeout)
}

func TestVisitTrackingAndStats(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	handler := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/visits/track", nil)
	req.AddCookie(&http.Cookie{Name: ownertoken.CookieName, Value: "browser-a"})
	out := doJSON(t, handler, req, http.StatusOK)
	if out["success"] != true {
		t.Fatalf("track should succeed: %v", out)
	}
	data, _ := out["data"].(map[string]any)
	if data["totalVisitors"] != float64(1) || data["activeToday"] != float64(1) {
		t.Fatalf("unexpected stats: %v", data)
	}

	out = doJSON(t, handler, httptest.NewRequest(http.MethodGet, "/api/visits/stats", nil), http.StatusOK)
	data, _ = out["data"].(map[string]any)
	if data["totalVisitors"] != float64(1) {
		t.Fatalf("stats should report one visitor: %v", out)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	out := doJSON(t, srv.Router(), httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK)
	if out["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", out)
	}
}

func TestFirstContactSetsOwnerCookie(t *testing.T) {
	srv, _ := newTestServer(t, ownership.PolicyNone, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/urls", nil))
	var found bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == ownertoken.CookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("first contact should set the browser identity cookie")
	}
}
