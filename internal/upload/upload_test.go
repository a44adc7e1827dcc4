package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamegate/internal/gamestore"
	"gamegate/internal/rules"
)

const token = "party-secret"

const game = `<!DOCTYPE html>
<html>
<head>
<meta name="title" content="Pong">
<script src="/maribro-sdk.js"></script>
</head>
<body><canvas></canvas></body>
</html>
`

type fixture struct {
	svc    *Service
	store  *gamestore.DirStore
	server *httptest.Server
	public string
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := gamestore.NewDirStore(filepath.Join(root, "games"))
	require.NoError(t, err)

	avatars := filepath.Join(root, "avatars.json")
	require.NoError(t, os.WriteFile(avatars, []byte(`{"avatars":[{"id":"kit","name":"Kit"},{"id":"rex"}]}`), 0o644))

	public := filepath.Join(root, "public")
	require.NoError(t, os.MkdirAll(public, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(public, "maribro-sdk.js"), []byte("window.Maribro={}"), 0o644))

	svc := NewService(Options{
		Store:       store,
		Engine:      rules.NewEngine(rules.Params{MaxBytes: maxBytes, RenderTextThreshold: 200}),
		UploadToken: token,
		AvatarsPath: avatars,
	})
	srv := httptest.NewServer(NewRouter(svc, RouterOptions{
		PublicDir:      public,
		MaxUploadBytes: maxBytes,
		AllowedOrigins: []string{"http://party.local"},
	}))
	t.Cleanup(srv.Close)
	return &fixture{svc: svc, store: store, server: srv, public: public}
}

type envelope struct {
	OK    bool `json:"ok"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Game struct {
		ID              string `json:"id"`
		Filename        string `json:"filename"`
		Title           string `json:"title"`
		CreatorAvatarID string `json:"creatorAvatarId"`
		MaxDurationSec  int    `json:"maxDurationSec"`
	} `json:"game"`
	Games []struct {
		Filename string `json:"filename"`
	} `json:"games"`
	Avatars []map[string]any `json:"avatars"`
}

func (f *fixture) upload(t *testing.T, fields map[string]string, filename string, body []byte, header string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if body != nil {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/games", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if header != "" {
		req.Header.Set("X-Upload-Token", header)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (f *fixture) get(t *testing.T, path string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestUpload_Success(t *testing.T) {
	f := newFixture(t, 2<<20)
	status, env := f.upload(t, map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "games/pong.html", []byte(game), "")

	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.True(t, env.OK)
	assert.Equal(t, "pong", env.Game.ID)
	assert.Equal(t, "pong.html", env.Game.Filename)
	assert.Equal(t, "Pong", env.Game.Title)
	assert.Equal(t, "kit", env.Game.CreatorAvatarID)
	assert.Equal(t, 90, env.Game.MaxDurationSec)

	stored, err := f.store.Get(context.Background(), "pong.html")
	require.NoError(t, err)
	assert.Contains(t, string(stored), `<meta name="creatorAvatarId" content="kit">`+"\n</head>")
}

func TestUpload_FilenameFieldWinsAndHeaderToken(t *testing.T) {
	f := newFixture(t, 2<<20)
	status, env := f.upload(t, map[string]string{"creator_avatar_id": "rex", "filename": "air-hockey.html"},
		"whatever.html", []byte(game), token)

	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.Equal(t, "air-hockey.html", env.Game.Filename)
}

func TestUpload_Errors(t *testing.T) {
	big := strings.Replace(game, "</body>", strings.Repeat("x", 600)+"</body>", 1)
	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		body     string
		status   int
		code     string
		message  string
	}{
		{"bad token", map[string]string{"creator_avatar_id": "kit", "upload_token": "nope"}, "pong.html", game,
			http.StatusUnauthorized, CodeInvalidToken, "missing or invalid upload token"},
		{"no token", map[string]string{"creator_avatar_id": "kit"}, "pong.html", game,
			http.StatusUnauthorized, CodeInvalidToken, "missing or invalid upload token"},
		{"unknown avatar", map[string]string{"creator_avatar_id": "ghost", "upload_token": token}, "pong.html", game,
			http.StatusBadRequest, CodeUnknownAvatar, "unknown creator_avatar_id: ghost"},
		{"too large", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "pong.html", big,
			http.StatusBadRequest, CodeTooLarge, "game file must be <= 512 bytes"},
		{"external script", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "pong.html",
			strings.Replace(game, "/maribro-sdk.js", "https://cdn.example.com/a.js", 1),
			http.StatusBadRequest, CodeExternalResource, "external http(s) resources are not allowed"},
		{"protocol relative", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "pong.html",
			strings.Replace(game, "/maribro-sdk.js", "//cdn.example.com/a.js", 1),
			http.StatusBadRequest, CodeExternalResource, "protocol-relative // resources are not allowed"},
		{"local asset", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "pong.html",
			strings.Replace(game, "</head>", `<link href="style.css"></head>`, 1),
			http.StatusBadRequest, CodeExternalResource, "non-inline resource reference not allowed: style.css"},
		{"not html", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "pong.txt", game,
			http.StatusBadRequest, CodeBadFilename, "filename must end with .html"},
		{"not kebab", map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "My_Game.html", game,
			http.StatusBadRequest, CodeBadFilename, "filename must be kebab-case (letters/numbers/dashes)"},
		{"missing avatar field", map[string]string{"upload_token": token}, "pong.html", game,
			http.StatusBadRequest, CodeBadRequest, "creator_avatar_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 512)
			status, env := f.upload(t, tt.fields, tt.filename, []byte(tt.body), "")
			assert.Equal(t, tt.status, status)
			assert.False(t, env.OK)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.message, env.Error.Message)

			entries, err := f.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, entries, "rejected uploads must not be stored")
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t, 2<<20)
	status, env := f.upload(t, map[string]string{"creator_avatar_id": "kit", "upload_token": token}, "", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeBadRequest, env.Error.Code)
}

func TestListGames_HidesTemplatesNewestFirst(t *testing.T) {
	f := newFixture(t, 2<<20)
	ctx := context.Background()
	dir := f.store.Dir()

	require.NoError(t, f.store.Put(ctx, "_template.html", []byte(game)))
	require.NoError(t, f.store.Put(ctx, "older.html", []byte(game)))
	require.NoError(t, f.store.Put(ctx, "newer.html", []byte(game)))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "older.html"), old, old))

	status, env := f.get(t, "/api/games")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.Games, 2)
	assert.Equal(t, "newer.html", env.Games[0].Filename)
	assert.Equal(t, "older.html", env.Games[1].Filename)
}

func TestAvatars(t *testing.T) {
	f := newFixture(t, 2<<20)
	status, env := f.get(t, "/api/avatars")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.Avatars, 2)
	assert.Equal(t, "kit", env.Avatars[0]["id"])
}

func TestAvatars_BareListAndMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avatars.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"kit"}]`), 0o644))

	list, err := NewService(Options{AvatarsPath: path}).Avatars()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "kit", list[0].ID())

	none, err := NewService(Options{AvatarsPath: filepath.Join(t.TempDir(), "missing.json")}).Avatars()
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServesGamesAndPublic(t *testing.T) {
	f := newFixture(t, 2<<20)
	require.NoError(t, f.store.Put(context.Background(), "pong.html", []byte(game)))

	resp, err := http.Get(f.server.URL + "/games/pong.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(f.server.URL + "/games/missing.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/maribro-sdk.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, 2<<20)
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/games", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://party.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://party.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSanitizeFilename(t *testing.T) {
	ok := map[string]string{
		"pong.html":            "pong.html",
		"  air-hockey-2.html ": "air-hockey-2.html",
		`C:\games\pong.html`:   "pong.html",
		"../../etc/snake.html": "snake.html",
	}
	for in, want := range ok {
		got, err := SanitizeFilename(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"pong.htm", "Pong.html", "pong-.html", "-pong.html", "po--ng.html", ".html"} {
		_, err := SanitizeFilename(in)
		assert.Error(t, err, in)
	}
}

func TestInjectCreator(t *testing.T) {
	assert.Equal(t,
		"<head><title>x</title><meta name=\"creatorAvatarId\" content=\"kit\">\n</HEAD><body></body>",
		InjectCreator("<head><title>x</title></HEAD><body></body>", "kit"))
	assert.Equal(t,
		"<meta name=\"creatorAvatarId\" content=\"kit\">\n<canvas></canvas>",
		InjectCreator("<canvas></canvas>", "kit"))

	already := `<head><meta name="creatorAvatarId" content="rex"></head>`
	assert.Equal(t, already, InjectCreator(already, "kit"))

	assert.Equal(t,
		"<head><meta name=\"creatorAvatarId\" content=\"a&#34;&gt;&lt;b\">\n</head>",
		InjectCreator("<head></head>", `a"><b`))
}

func TestCheckToken(t *testing.T) {
	svc := NewService(Options{UploadToken: " " + token + " "})
	assert.NoError(t, svc.CheckToken(token))
	assert.NoError(t, svc.CheckToken(token+"\n"))
	assert.ErrorIs(t, svc.CheckToken(token+"x"), ErrInvalidToken)
	assert.Error(t, svc.CheckToken(""))

	empty := NewService(Options{})
	assert.Error(t, empty.CheckToken(""), "an unset token never authorizes")
}
