package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/shield"
	"github.com/hazyhaar/extracttext/webextract"
)

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.RemoteAddr = "198.51.100.4:5123"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func multipartFile(t *testing.T, field, name string, content []byte) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(content)
	mw.Close()
	return mw.FormDataContentType(), buf.Bytes()
}

func TestHTTP_InfoAndHealth(t *testing.T) {
	h := newTestService(t, nil, nil, nil, WithCapabilities(docpipe.Capabilities{OCR: true})).Handler(nil)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	var info Info
	rec = do(t, h, http.MethodGet, "/", "", nil)
	decode(t, rec, &info)
	if info.APIName != APIName || info.Version != Version || !info.Capabilities.OCR {
		t.Errorf("info = %+v", info)
	}

	var cats map[string][]string
	decode(t, do(t, h, http.MethodGet, "/v1/supported-formats", "", nil), &cats)
	found := false
	for _, exts := range cats {
		for _, e := range exts {
			if e == "pdf" {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("pdf missing from %v", cats)
	}
}

func TestHTTP_ExtractFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileSize = 64
	h := newTestService(t, cfg, nil, nil).Handler(nil)

	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		code     int
		message  string
	}{
		{"ok", "file", "a.txt", []byte("Hello\nWorld"), http.StatusOK, ""},
		{"missing field", "upload", "a.txt", []byte("x"), http.StatusBadRequest, "file"},
		{"empty", "file", "a.txt", nil, http.StatusUnprocessableEntity, "File is empty"},
		{"too large", "file", "a.txt", bytes.Repeat([]byte("a"), 100), http.StatusRequestEntityTooLarge, "maximum allowed size"},
		{"unsupported", "file", "a.xyz", []byte("x"), http.StatusUnsupportedMediaType, "Unsupported file format: xyz."},
		{"spoofed", "file", "a.pdf", []byte("<html>not a pdf</html>"), http.StatusUnsupportedMediaType, "spoofing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, body := multipartFile(t, tt.field, tt.filename, tt.content)
			rec := do(t, h, http.MethodPost, "/v1/extract/file", ct, body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.code, rec.Body)
			}
			if tt.code == http.StatusOK {
				var res Result
				decode(t, rec, &res)
				if res.Status != "success" || res.Filename != "a.txt" || res.Files[0].Text != "Hello\nWorld" {
					t.Errorf("result = %+v", res)
				}
				return
			}
			var er ErrorResponse
			decode(t, rec, &er)
			if er.Status != "error" || !strings.Contains(er.Message, tt.message) {
				t.Errorf("error = %+v, want message containing %q", er, tt.message)
			}
		})
	}
}

func TestHTTP_ExtractBase64(t *testing.T) {
	h := newTestService(t, nil, nil, nil).Handler(nil)

	body, _ := json.Marshal(base64Request{
		EncodedBase64File: base64.StdEncoding.EncodeToString([]byte("Hello\nWorld")),
		Filename:          "a.txt",
	})
	rec := do(t, h, http.MethodPost, "/v1/extract/base64", "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}

	tests := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"invalid base64", `{"encoded_base64_file":"***","filename":"a.txt"}`, http.StatusBadRequest, msgBadBase64},
		{"invalid json", `{"encoded_base64_file":`, http.StatusBadRequest, "invalid JSON body"},
		{"no body", ``, http.StatusBadRequest, "request body is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/extract/base64", "application/json", []byte(tt.body))
			var er ErrorResponse
			decode(t, rec, &er)
			if rec.Code != tt.code || er.Message != tt.msg {
				t.Errorf("got %d %q, want %d %q", rec.Code, er.Message, tt.code, tt.msg)
			}
		})
	}
}

func TestHTTP_ExtractURL(t *testing.T) {
	web := &fakeWeb{fn: func(_ context.Context, rawURL, _ string, _ webextract.Options) ([]docpipe.Unit, error) {
		if strings.Contains(rawURL, "127.0.0.1") {
			return nil, webextract.ErrBlocked
		}
		return []docpipe.Unit{{Filename: "page_content", Path: rawURL, Type: "html", Text: "page"}}, nil
	}}
	h := newTestService(t, nil, nil, web).Handler(nil)

	rec := do(t, h, http.MethodPost, "/v1/extract/url", "application/json", []byte(`{"url":"https://example.com/"}`))
	var res Result
	decode(t, rec, &res)
	if rec.Code != http.StatusOK || res.URL != "https://example.com/" || res.Count != 1 {
		t.Fatalf("got %d %+v", rec.Code, res)
	}

	rec = do(t, h, http.MethodPost, "/v1/extract/url", "application/json", []byte(`{"url":"http://127.0.0.1:8080/admin"}`))
	var er ErrorResponse
	decode(t, rec, &er)
	if rec.Code != http.StatusBadRequest || er.Message != msgBlocked || er.URL != "http://127.0.0.1:8080/admin" {
		t.Errorf("blocked: %d %+v", rec.Code, er)
	}
}

func TestHTTP_Extractions(t *testing.T) {
	j := openJournal(t)
	svc := newTestService(t, nil, nil, nil, WithJournal(j))
	h := svc.Handler(nil)

	ct, body := multipartFile(t, "file", "a.txt", []byte("hello"))
	do(t, h, http.MethodPost, "/v1/extract/file", ct, body)
	ct, body = multipartFile(t, "file", "b.xyz", []byte("x"))
	do(t, h, http.MethodPost, "/v1/extract/file", ct, body)
	waitEntries(t, svc, 2)

	var out struct {
		Count       int `json:"count"`
		Extractions []struct {
			Name       string `json:"name"`
			Status     string `json:"status"`
			HTTPStatus int    `json:"http_status"`
			TraceID    string `json:"trace_id"`
		} `json:"extractions"`
	}
	rec := do(t, h, http.MethodGet, "/v1/extractions?status=error", "", nil)
	decode(t, rec, &out)
	if out.Count != 1 || out.Extractions[0].Name != "b.xyz" || out.Extractions[0].HTTPStatus != http.StatusUnsupportedMediaType {
		t.Errorf("extractions = %+v", out)
	}
	if out.Extractions[0].TraceID == "" {
		t.Error("trace id not journaled")
	}

	rec = do(t, h, http.MethodGet, "/v1/extractions?since=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: %d", rec.Code)
	}
}

func TestHTTP_ExtractionsWithoutJournal(t *testing.T) {
	h := newTestService(t, nil, nil, nil).Handler(nil)
	rec := do(t, h, http.MethodGet, "/v1/extractions", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"extractions":[]`) {
		t.Errorf("got %d %s", rec.Code, rec.Body)
	}
}

func TestHTTP_RateLimit(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	h := svc.Handler(shield.NewRateLimiter(shield.RateLimitConfig{PerMinute: 60, Burst: 1, Exclude: []string{"/health"}}))

	if rec := do(t, h, http.MethodGet, "/v1/supported-formats", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/supported-formats", "", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second: %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	for i := 0; i < 3; i++ {
		if rec := do(t, h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
			t.Errorf("health limited: %d", rec.Code)
		}
	}
}

func TestHTTP_CORSPreflight(t *testing.T) {
	h := newTestService(t, nil, nil, nil).Handler(nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/extract/url", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestHTTP_MCPRoute(t *testing.T) {
	cfg := testConfig(t)
	h := newTestService(t, cfg, nil, nil).Handler(nil)
	if rec := do(t, h, http.MethodPost, "/mcp", "application/json", []byte(`{}`)); rec.Code != http.StatusNotFound {
		t.Errorf("mcp disabled: %d", rec.Code)
	}

	cfg = testConfig(t)
	cfg.MCP.Enabled = true
	h = newTestService(t, cfg, nil, nil).Handler(nil)
	if rec := do(t, h, http.MethodPost, "/mcp", "application/json", []byte(`{}`)); rec.Code == http.StatusNotFound {
		t.Error("mcp enabled but not routed")
	}
}
