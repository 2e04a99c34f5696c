package webextract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/hazyhaar/extracttext/browser"
	"github.com/hazyhaar/extracttext/docpipe"
)

// noopValidator allows all URLs (for tests that don't test SSRF).
func noopValidator(context.Context, string) error { return nil }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeOCR struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (f *fakeOCR) Recognize(context.Context, []byte, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, nil
}

func (f *fakeOCR) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	mu   sync.Mutex
	reqs []browser.Request
	page *browser.Page
	err  error
}

func (f *fakeRenderer) Render(_ context.Context, req browser.Request) (*browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.page, f.err
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newTestExtractor wires an extractor with OCR on and a permissive validator.
func newTestExtractor(t *testing.T, cfg Config, ocr bool) (*Extractor, *fakeOCR) {
	t.Helper()
	fo := &fakeOCR{text: " ocr text \n"}
	pipe := docpipe.New(docpipe.Config{
		Capabilities: &docpipe.Capabilities{OCR: ocr},
		OCR:          fo,
		Logger:       quiet,
	})
	cfg.Pipeline = pipe
	if cfg.URLValidator == nil {
		cfg.URLValidator = noopValidator
	}
	cfg.Logger = quiet
	return New(cfg), fo
}

const testPage = `<html>
<head><title>T</title><script>var hidden = 1;</script><style>p{}</style></head>
<body>
<nav>menu</nav>
<header>banner</header>
<h1>Title</h1>
<p>  Hello world  </p>
<img src="/img/big.png">
<img src="/img/small.png">
<img src="%s">
<img src="/img/noext">
<aside>side</aside>
<footer>foot</footer>
</body>
</html>`

func pageServer(t *testing.T, referers *[]string) *httptest.Server {
	t.Helper()
	big := pngOf(t, 200, 200)
	small := pngOf(t, 10, 10)
	inline := "data:image/png;base64," + base64.StdEncoding.EncodeToString(big)
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, testPage, inline)
	})
	serveImg := func(data []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			*referers = append(*referers, r.Header.Get("Referer"))
			mu.Unlock()
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		}
	}
	mux.HandleFunc("/img/big.png", serveImg(big))
	mux.HandleFunc("/img/small.png", serveImg(small))
	mux.HandleFunc("/img/noext", serveImg(big))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExtract_HTMLPage(t *testing.T) {
	var referers []string
	srv := pageServer(t, &referers)
	ex, ocr := newTestExtractor(t, Config{}, true)

	units, err := ex.Extract(context.Background(), srv.URL+"/page", "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	// WHAT: Page first, then the inline image, then remote images in
	// document order; the small image is dropped.
	want := []struct{ filename, typ string }{
		{"page_content", "html"},
		{"base64_image.png", "png"},
		{"big.png", "png"},
		{"noext.png", "png"},
	}
	if len(units) != len(want) {
		t.Fatalf("got %d units: %+v", len(units), units)
	}
	for i, w := range want {
		if units[i].Filename != w.filename || units[i].Type != w.typ {
			t.Errorf("unit %d = %s/%s, want %s/%s", i, units[i].Filename, units[i].Type, w.filename, w.typ)
		}
	}

	page := units[0]
	if page.Path != srv.URL+"/page" {
		t.Errorf("page path = %q", page.Path)
	}
	if page.Text != "T\nTitle\nHello world" {
		t.Errorf("page text = %q", page.Text)
	}
	for _, hidden := range []string{"menu", "banner", "side", "foot", "hidden"} {
		if strings.Contains(page.Text, hidden) {
			t.Errorf("page text contains %q", hidden)
		}
	}

	if units[1].Path != "data:image/png;base64,[base64_data]" {
		t.Errorf("inline path = %q", units[1].Path)
	}
	if units[2].Path != srv.URL+"/img/big.png" || units[2].Text != "ocr text" {
		t.Errorf("remote unit = %+v", units[2])
	}
	if ocr.count() != 3 {
		t.Errorf("ocr calls = %d, want 3", ocr.count())
	}
	// WHY: Image hosts often check the Referer before serving.
	for _, ref := range referers {
		if ref != srv.URL+"/page" {
			t.Errorf("referer = %q", ref)
		}
	}
}

func TestExtract_ImageOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		ocr   bool
		units int
	}{
		{"images disabled", Options{ProcessImages: Bool(false)}, true, 1},
		{"ocr unavailable", Options{}, false, 1},
		{"base64 disabled", Options{EnableBase64Images: Bool(false)}, true, 3},
		{"max one image", Options{MaxImagesPerPage: Int(1)}, true, 2},
		{"area threshold off", Options{MinImageSizeForOCR: Int(0)}, true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var referers []string
			srv := pageServer(t, &referers)
			ex, _ := newTestExtractor(t, Config{}, tt.ocr)
			units, err := ex.Extract(context.Background(), srv.URL+"/page", "", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(units) != tt.units {
				t.Errorf("got %d units, want %d", len(units), tt.units)
			}
		})
	}
}

func TestExtract_Charset(t *testing.T) {
	body, err := charmap.Windows1251.NewEncoder().String("<html><body><p>Привет мир</p></body></html>")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		io.WriteString(w, body)
	}))
	defer srv.Close()
	ex, _ := newTestExtractor(t, Config{}, false)

	units, err := ex.Extract(context.Background(), srv.URL, "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if units[0].Text != "Привет мир" {
		t.Errorf("text = %q", units[0].Text)
	}
}

func TestExtract_HeadFallsBackToGet(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		agents = append(agents, r.UserAgent())
		mu.Unlock()
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<p>ok</p>")
	}))
	defer srv.Close()
	ex, _ := newTestExtractor(t, Config{}, false)

	units, err := ex.Extract(context.Background(), srv.URL, "custom-agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if units[0].Text != "ok" {
		t.Errorf("text = %q", units[0].Text)
	}
	if strings.Join(methods, ",") != "HEAD,GET,GET" {
		t.Errorf("methods = %v", methods)
	}
	for _, a := range agents {
		if a != "custom-agent" {
			t.Errorf("user agent = %q", a)
		}
	}
}

func TestExtract_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="../notes.txt"`)
		io.WriteString(w, "hello file")
	}))
	defer srv.Close()
	ex, _ := newTestExtractor(t, Config{}, false)

	// WHAT: An octet-stream with a file extension takes the download path.
	units, err := ex.Extract(context.Background(), srv.URL+"/get/report.bin", "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].Filename != "notes.txt" || units[0].Text != "hello file" {
		t.Errorf("units = %+v", units)
	}
}

func TestExtract_DownloadTooLarge(t *testing.T) {
	payload := strings.Repeat("x", 100)
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"declared length", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", "100")
			io.WriteString(w, payload)
		}},
		// WHY: Chunked responses carry no length; the read itself is capped.
		{"streamed", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, payload[:10])
			w.(http.Flusher).Flush()
			io.WriteString(w, payload[10:])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			ex, _ := newTestExtractor(t, Config{MaxFileSize: 50}, false)
			_, err := ex.Extract(context.Background(), srv.URL+"/big.txt", "", Options{})
			if !errors.Is(err, ErrTooLarge) {
				t.Errorf("err = %v, want ErrTooLarge", err)
			}
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", http.NotFound)
	mux.HandleFunc("/to-private", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/private", http.StatusFound)
	})
	mux.HandleFunc("/loop/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	blockPrivate := func(_ context.Context, raw string) error {
		if strings.Contains(raw, "/private") {
			return errors.New("private path")
		}
		return nil
	}
	tests := []struct {
		name string
		url  string
		opts Options
		want error
	}{
		{"blocked url", srv.URL + "/private", Options{}, ErrBlocked},
		// WHY: A public URL must not launder a redirect to a blocked one.
		{"blocked redirect hop", srv.URL + "/to-private", Options{}, ErrBlocked},
		{"http status", srv.URL + "/missing", Options{}, ErrHTTPStatus},
		{"too many redirects", srv.URL + "/loop/", Options{MaxRedirects: Int(2)}, ErrTooManyRedirects},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, _ := newTestExtractor(t, Config{URLValidator: blockPrivate}, false)
			_, err := ex.Extract(context.Background(), tt.url, "", tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtract_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	ex, _ := newTestExtractor(t, Config{}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := ex.Extract(ctx, srv.URL, "", Options{})
	if !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("err = %v, want ErrFetchTimeout", err)
	}
}

func TestExtract_DialGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached a guarded address")
	}))
	defer srv.Close()
	guard := func(a netip.Addr) error {
		if a.IsLoopback() {
			return errors.New("loopback")
		}
		return nil
	}
	// WHAT: The URL passes validation but the dialed address is refused,
	// as after a DNS rebind.
	ex, _ := newTestExtractor(t, Config{AddrGuard: guard}, false)
	_, err := ex.Extract(context.Background(), srv.URL, "", Options{})
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("err = %v, want ErrBlocked", err)
	}
}

func TestExtract_Renderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<p>static</p>")
	}))
	defer srv.Close()

	t.Run("rendered", func(t *testing.T) {
		r := &fakeRenderer{page: &browser.Page{HTML: "<p>rendered</p>", FinalURL: srv.URL + "/final"}}
		ex, _ := newTestExtractor(t, Config{Renderer: r}, false)
		units, err := ex.Extract(context.Background(), srv.URL, "", Options{
			EnableJavaScript: Bool(true),
			JSRenderTimeout:  Int(60),
			WebPageDelay:     Int(0),
		})
		if err != nil {
			t.Fatal(err)
		}
		if units[0].Text != "rendered" || units[0].Path != srv.URL+"/final" {
			t.Errorf("unit = %+v", units[0])
		}
		req := r.reqs[0]
		// WHY: The idle wait is capped so a chatty page cannot stall the request.
		if req.IdleTimeout != 15*time.Second || req.NavTimeout != 30*time.Second || req.SettleDelay != 0 {
			t.Errorf("request = %+v", req)
		}
		if !req.JavaScript || !req.LazyScroll || req.MaxScrolls != 3 {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("render failure falls back", func(t *testing.T) {
		r := &fakeRenderer{err: errors.New("chrome crashed")}
		ex, _ := newTestExtractor(t, Config{Renderer: r}, false)
		units, err := ex.Extract(context.Background(), srv.URL, "", Options{EnableJavaScript: Bool(true)})
		if err != nil {
			t.Fatal(err)
		}
		if units[0].Text != "static" {
			t.Errorf("text = %q", units[0].Text)
		}
	})

	t.Run("javascript off skips renderer", func(t *testing.T) {
		r := &fakeRenderer{err: errors.New("must not be called")}
		ex, _ := newTestExtractor(t, Config{Renderer: r}, false)
		if _, err := ex.Extract(context.Background(), srv.URL, "", Options{}); err != nil {
			t.Fatal(err)
		}
		if len(r.reqs) != 0 {
			t.Errorf("renderer called %d times", len(r.reqs))
		}
	})

	t.Run("rendered page landed on blocked url", func(t *testing.T) {
		r := &fakeRenderer{page: &browser.Page{HTML: "<p>x</p>", FinalURL: "http://169.254.169.254/latest"}}
		validate := func(_ context.Context, raw string) error {
			if strings.Contains(raw, "169.254") {
				return errors.New("metadata")
			}
			return nil
		}
		ex, _ := newTestExtractor(t, Config{Renderer: r, URLValidator: validate}, false)
		_, err := ex.Extract(context.Background(), srv.URL, "", Options{EnableJavaScript: Bool(true)})
		if !errors.Is(err, ErrBlocked) {
			t.Errorf("err = %v, want ErrBlocked", err)
		}
	})
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		ct, url string
		want    bool
	}{
		{"text/html; charset=utf-8", "https://x.test/a.pdf", true},
		{"application/xhtml+xml", "https://x.test/", true},
		{"text/plain", "https://x.test/index.html", true},
		{"text/plain", "https://x.test/notes.txt", false},
		{"text/plain", "https://x.test/", false},
		{"", "https://x.test/page", true},
		{"", "https://x.test/file.zip", false},
		{"application/octet-stream", "https://x.test/", true},
		{"application/octet-stream", "https://x.test/doc.docx", false},
		{"application/pdf", "https://x.test/page", false},
		// WHAT: The host's TLD is not an extension.
		{"", "https://example.com", true},
	}
	for _, tt := range tests {
		if got := isHTML(tt.ct, tt.url); got != tt.want {
			t.Errorf("isHTML(%q, %q) = %v, want %v", tt.ct, tt.url, got, tt.want)
		}
	}
}

func TestResponseFilename(t *testing.T) {
	tests := []struct {
		name, url, ct, cd, want string
	}{
		{"disposition", "https://x.test/dl", "application/pdf", `attachment; filename="report.pdf"`, "report.pdf"},
		{"disposition rfc 6266", "https://x.test/dl", "", `attachment; filename*=UTF-8''%D0%BE%D1%82%D1%87%D0%B5%D1%82.pdf`, "отчет.pdf"},
		{"disposition malformed", "https://x.test/dl", "", `attachment; filename=a b.docx; x`, "a b.docx"},
		{"url segment", "https://x.test/files/My%20File.docx", "", "", "My File.docx"},
		{"extension from mime", "https://x.test/files/report", "application/pdf; q=1", "", "report.pdf"},
		{"bare host with mime", "https://x.test/", "application/zip", "", "downloaded_file.zip"},
		{"nothing known", "https://x.test/", "application/x-unknown", "", "downloaded_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			resp := &http.Response{Header: http.Header{}, Request: &http.Request{URL: u}}
			if tt.ct != "" {
				resp.Header.Set("Content-Type", tt.ct)
			}
			if tt.cd != "" {
				resp.Header.Set("Content-Disposition", tt.cd)
			}
			if got := responseFilename(resp); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionsResolve(t *testing.T) {
	defaults := Options{MaxRedirects: Int(2), ProcessImages: Bool(false)}

	s := Options{}.resolve(defaults)
	if s.maxRedirects != 2 || s.images {
		t.Errorf("service defaults not applied: %+v", s)
	}
	if s.pageTimeout != 30*time.Second || s.imageTimeout != 15*time.Second || s.minImageArea != 22500 {
		t.Errorf("built-in defaults not applied: %+v", s)
	}
	if s.explicitTimeout {
		t.Error("explicitTimeout set without a request value")
	}

	s = Options{MaxRedirects: Int(7), WebPageTimeout: Int(5), WebPageDelay: Int(-3)}.resolve(defaults)
	if s.maxRedirects != 7 || s.pageTimeout != 5*time.Second || !s.explicitTimeout {
		t.Errorf("request values not applied: %+v", s)
	}
	if s.delay != 0 {
		t.Errorf("negative delay = %v, want 0", s.delay)
	}
}

func TestOptionsResolve_NonPositiveTimeouts(t *testing.T) {
	// WHAT: A zero or negative timeout falls back to a default instead of disabling it.
	// WHY: http.Client treats Timeout 0 as no deadline at all.
	tests := []struct {
		name     string
		defaults Options
		opts     Options
		page     time.Duration
		image    time.Duration
		js       time.Duration
	}{
		{"request zero", Options{}, Options{WebPageTimeout: Int(0), ImageDownloadTimeout: Int(0), JSRenderTimeout: Int(0)},
			30 * time.Second, 15 * time.Second, 10 * time.Second},
		{"request negative", Options{WebPageTimeout: Int(12)}, Options{WebPageTimeout: Int(-1)},
			12 * time.Second, 15 * time.Second, 10 * time.Second},
		{"service zero", Options{WebPageTimeout: Int(0), ImageDownloadTimeout: Int(0)}, Options{},
			30 * time.Second, 15 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.opts.resolve(tt.defaults)
			if s.pageTimeout != tt.page || s.imageTimeout != tt.image || s.jsTimeout != tt.js {
				t.Errorf("timeouts page=%v image=%v js=%v, want %v %v %v",
					s.pageTimeout, s.imageTimeout, s.jsTimeout, tt.page, tt.image, tt.js)
			}
			if s.explicitTimeout {
				t.Error("a non-positive request timeout counts as explicit")
			}
		})
	}
}
