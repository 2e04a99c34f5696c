package service

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/journal"
	"github.com/hazyhaar/extracttext/shield"
	"github.com/hazyhaar/extracttext/webextract"
)

// multipartOverhead is the room left for multipart framing above MaxFileSize.
const multipartOverhead = 1 << 20

// Handler returns the HTTP API. rl may be nil to disable rate limiting.
func (s *Service) Handler(rl *shield.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Trace-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)
	// Base64 inflates the payload by 4/3.
	maxBody := s.cfg.MaxFileSize*4/3 + multipartOverhead
	for _, mw := range shield.DefaultAPIStack(maxBody, rl) {
		r.Use(mw)
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Info())
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Health())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/supported-formats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.SupportedFormats())
		})
		r.Post("/extract/file", s.handleFile)
		r.Post("/extract/base64", s.handleBase64)
		r.Post("/extract/url", s.handleURL)
		r.Get("/extractions", s.handleExtractions)
	})

	if s.cfg.MCP.Enabled {
		srv := s.MCPServer()
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
	return r
}

func (s *Service) handleFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(w, ErrorResponse{}, ErrTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: "error", Message: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	name := header.Filename
	if header.Size > s.cfg.MaxFileSize {
		s.writeError(w, ErrorResponse{Filename: name}, ErrTooLarge)
		return
	}
	data, err := readPart(file, s.cfg.MaxFileSize)
	if err != nil {
		s.writeError(w, ErrorResponse{Filename: name}, err)
		return
	}

	res, err := s.ExtractFile(r.Context(), data, name)
	if err != nil {
		s.writeError(w, ErrorResponse{Filename: name}, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func readPart(f multipart.File, max int64) ([]byte, error) {
	data, err := horosafe.LimitedReadAll(f, max)
	if errors.Is(err, horosafe.ErrTooLarge) {
		return nil, ErrTooLarge
	}
	return data, err
}

type base64Request struct {
	EncodedBase64File string `json:"encoded_base64_file"`
	Filename          string `json:"filename"`
}

func (s *Service) handleBase64(w http.ResponseWriter, r *http.Request) {
	var req base64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBodyError(w, ErrorResponse{}, err)
		return
	}
	res, err := s.ExtractBase64(r.Context(), req.EncodedBase64File, req.Filename)
	if err != nil {
		s.writeError(w, ErrorResponse{Filename: req.Filename}, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type urlRequest struct {
	URL               string              `json:"url"`
	UserAgent         string              `json:"user_agent"`
	ExtractionOptions *webextract.Options `json:"extraction_options"`
}

func (s *Service) handleURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBodyError(w, ErrorResponse{}, err)
		return
	}
	var opts webextract.Options
	if req.ExtractionOptions != nil {
		opts = *req.ExtractionOptions
	}
	res, err := s.ExtractURL(r.Context(), req.URL, req.UserAgent, opts)
	if err != nil {
		s.writeError(w, ErrorResponse{URL: req.URL}, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleExtractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := journal.Filter{
		Source: q.Get("source"),
		Status: q.Get("status"),
		Limit:  queryInt(r, "limit", 50),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: "error", Message: "since must be RFC 3339"})
			return
		}
		f.Since = t
	}
	entries, err := s.Recent(r.Context(), f)
	if err != nil {
		shield.GetLogger(r.Context()).Error("service: journal query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Status: "error", Message: "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "extractions": entries})
}

// writeBodyError answers a request body that could not be decoded.
func (s *Service) writeBodyError(w http.ResponseWriter, resp ErrorResponse, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		s.writeError(w, resp, ErrTooLarge)
		return
	}
	resp.Status = "error"
	resp.Message = "invalid JSON body"
	if errors.Is(err, io.EOF) {
		resp.Message = "request body is required"
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func (s *Service) writeError(w http.ResponseWriter, resp ErrorResponse, err error) {
	code, msg := classify(err, s.cfg.ProcessingTimeoutSeconds)
	resp.Status = "error"
	resp.Message = msg
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
