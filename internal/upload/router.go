package upload

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gamegate/internal/gamestore"
	"gamegate/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// multipartOverhead is the slack allowed on top of the game size cap for the
// other form fields and part headers.
const multipartOverhead = 1 << 20

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	PublicDir      string // served at / when set
	MaxUploadBytes int64
}

type router struct {
	svc  *Service
	opts RouterOptions
}

// NewRouter mounts the API, stored games and the public directory.
func NewRouter(svc *Service, opts RouterOptions) http.Handler {
	r := &router{svc: svc, opts: opts}
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(requestLog)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Upload-Token", "X-Maribro-Token"},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/api", func(rt chi.Router) {
		rt.Get("/games", r.handleListGames)
		rt.Post("/games", r.handleUpload)
		rt.Get("/avatars", r.handleAvatars)
	})

	mux.Get("/games/{name}", r.handleGame)

	if opts.PublicDir != "" {
		mux.Handle("/*", http.FileServer(http.Dir(opts.PublicDir)))
	}
	return mux
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		logging.Get(logging.CategoryServer).Debug("%s %s %s -> %d (%s)",
			id, req.Method, req.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// GET /api/games
func (r *router) handleListGames(w http.ResponseWriter, req *http.Request) {
	games, err := r.svc.List(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"games": games})
}

// POST /api/games
// Multipart: file, creator_avatar_id, filename?, upload_token? (or X-Upload-Token header)
func (r *router) handleUpload(w http.ResponseWriter, req *http.Request) {
	limit := r.opts.MaxUploadBytes
	if limit <= 0 {
		limit = r.svc.engine.Params().MaxBytes
	}
	req.Body = http.MaxBytesReader(w, req.Body, limit+multipartOverhead)
	if err := req.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apiErr(http.StatusBadRequest, CodeTooLarge, "game file must be <= "+strconv.FormatInt(limit, 10)+" bytes"))
			return
		}
		writeError(w, apiErr(http.StatusBadRequest, CodeBadRequest, "expected multipart/form-data"))
		return
	}
	defer req.MultipartForm.RemoveAll()

	token := req.Header.Get("X-Upload-Token")
	if token == "" {
		token = req.Header.Get("X-Maribro-Token")
	}
	if token == "" {
		token = req.FormValue("upload_token")
	}
	// Token first so an anonymous client learns nothing about avatars or rules.
	if err := r.svc.CheckToken(token); err != nil {
		writeError(w, err)
		return
	}

	avatarID := strings.TrimSpace(req.FormValue("creator_avatar_id"))
	if avatarID == "" {
		writeError(w, apiErr(http.StatusBadRequest, CodeBadRequest, "creator_avatar_id is required"))
		return
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		writeError(w, apiErr(http.StatusBadRequest, CodeBadRequest, "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, apiErr(http.StatusBadRequest, CodeBadRequest, "could not read file"))
		return
	}

	game, err := r.svc.Upload(req.Context(), Request{
		Data:            data,
		Filename:        strings.TrimSpace(req.FormValue("filename")),
		OriginalName:    header.Filename,
		CreatorAvatarID: avatarID,
		Token:           token,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"game": game})
}

// GET /api/avatars
func (r *router) handleAvatars(w http.ResponseWriter, req *http.Request) {
	avatars, err := r.svc.Avatars()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]any{"avatars": avatars})
}

// GET /games/{name}
func (r *router) handleGame(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	data, err := r.svc.Game(req.Context(), name)
	if err != nil {
		if errors.Is(err, gamestore.ErrNotFound) {
			http.NotFound(w, req)
			return
		}
		http.Error(w, "could not load game", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func writeOK(w http.ResponseWriter, payload map[string]any) {
	payload["ok"] = true
	writeJSON(w, http.StatusOK, payload)
}

func writeError(w http.ResponseWriter, err error) {
	var ae *APIError
	if !errors.As(err, &ae) {
		logging.Get(logging.CategoryServer).Error("request failed: %v", err)
		ae = apiErr(http.StatusInternalServerError, CodeInternal, "internal error")
	}
	writeJSON(w, ae.Status, map[string]any{
		"ok":    false,
		"error": map[string]string{"code": ae.Code, "message": ae.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Debug("write response: %v", err)
	}
}
