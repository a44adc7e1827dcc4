// Package upload is the HTTP surface friends use to hand in games. Uploads
// pass the reference subset of the contract rules before they are stored.
package upload

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"gamegate/internal/artifact"
	"gamegate/internal/gamestore"
	"gamegate/internal/logging"
	"gamegate/internal/report"
	"gamegate/internal/rules"
)

// Error codes returned in the {ok:false, error:{code,message}} envelope.
const (
	CodeInvalidToken     = "invalid_upload_token"
	CodeUnknownAvatar    = "unknown_avatar"
	CodeTooLarge         = "too_large"
	CodeExternalResource = "external_resource"
	CodeBadFilename      = "bad_filename"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal_error"
)

// ErrInvalidToken is wrapped by the error CheckToken returns.
var ErrInvalidToken = errors.New("missing or invalid upload token")

var kebabStemRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var headCloseRe = regexp.MustCompile(`(?i)</head>`)

// APIError is a client-visible failure with its HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func apiErr(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Message: msg}
}

// Request is one parsed upload.
type Request struct {
	Data            []byte
	Filename        string // explicit filename form field, may be empty
	OriginalName    string // client-side name of the uploaded file
	CreatorAvatarID string
	Token           string
}

// Options configures a Service.
type Options struct {
	Store       gamestore.Store
	Engine      *rules.Engine // built with the upload size cap
	UploadToken string
	AvatarsPath string
}

// Service implements the upload, listing and avatar operations.
type Service struct {
	store       gamestore.Store
	engine      *rules.Engine
	token       string
	avatarsPath string
	now         func() time.Time
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	return &Service{
		store:       opts.Store,
		engine:      opts.Engine,
		token:       strings.TrimSpace(opts.UploadToken),
		avatarsPath: opts.AvatarsPath,
		now:         time.Now,
	}
}

// CheckToken compares the provided token with the configured one in constant time.
func (s *Service) CheckToken(provided string) error {
	provided = strings.TrimSpace(provided)
	if s.token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
		e := apiErr(http.StatusUnauthorized, CodeInvalidToken, ErrInvalidToken.Error())
		e.Err = ErrInvalidToken
		return e
	}
	return nil
}

// Upload validates, attributes and stores a game, returning its catalogue entry.
func (s *Service) Upload(ctx context.Context, req Request) (artifact.GameMetadata, error) {
	log := logging.Get(logging.CategoryServer)

	if err := s.CheckToken(req.Token); err != nil {
		log.Warn("upload rejected: bad token")
		return artifact.GameMetadata{}, err
	}

	known, err := s.isKnownAvatar(req.CreatorAvatarID)
	if err != nil {
		return artifact.GameMetadata{}, err
	}
	if !known {
		return artifact.GameMetadata{}, apiErr(http.StatusBadRequest, CodeUnknownAvatar,
			"unknown creator_avatar_id: "+req.CreatorAvatarID)
	}

	a := artifact.New(req.OriginalName, req.Data)
	if err := s.validate(a); err != nil {
		log.Info("upload rejected: %v", err)
		return artifact.GameMetadata{}, err
	}

	name := req.Filename
	if name == "" {
		name = req.OriginalName
	}
	if name == "" {
		name = "untitled.html"
	}
	name, err = SanitizeFilename(name)
	if err != nil {
		return artifact.GameMetadata{}, err
	}

	text := InjectCreator(a.Text, req.CreatorAvatarID)
	if err := s.store.Put(ctx, name, []byte(text)); err != nil {
		return artifact.GameMetadata{}, fmt.Errorf("store %s: %w", name, err)
	}

	game := artifact.New(name, []byte(text)).Metadata(name, s.now())
	game.CreatorAvatarID = req.CreatorAvatarID
	log.Info("stored %s by %s (%d bytes)", name, req.CreatorAvatarID, len(text))
	return game, nil
}

// validate runs the reference rules and maps the first failure to an API error.
func (s *Service) validate(a *artifact.Artifact) error {
	results := s.engine.Only(a,
		rules.NameFileSize,
		rules.NameNoExternalHTTP,
		rules.NameNoProtocolRelative,
		rules.NameSelfContained,
	)
	for _, r := range results {
		if r.Status != report.StatusFail {
			continue
		}
		switch r.Name {
		case rules.NameFileSize:
			return apiErr(http.StatusBadRequest, CodeTooLarge,
				fmt.Sprintf("game file must be <= %d bytes", s.engine.Params().MaxBytes))
		case rules.NameNoExternalHTTP:
			return apiErr(http.StatusBadRequest, CodeExternalResource, "external http(s) resources are not allowed")
		case rules.NameNoProtocolRelative:
			return apiErr(http.StatusBadRequest, CodeExternalResource, "protocol-relative // resources are not allowed")
		case rules.NameSelfContained:
			ref := ""
			if refs := rules.NonInlineRefs(a); len(refs) > 0 {
				ref = refs[0]
			}
			return apiErr(http.StatusBadRequest, CodeExternalResource, "non-inline resource reference not allowed: "+ref)
		}
	}
	return nil
}

// SanitizeFilename strips any directory part and requires a kebab-case .html name.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = path.Base(name)
	if !strings.HasSuffix(name, ".html") {
		return "", apiErr(http.StatusBadRequest, CodeBadFilename, "filename must end with .html")
	}
	if !kebabStemRe.MatchString(strings.TrimSuffix(name, ".html")) {
		return "", apiErr(http.StatusBadRequest, CodeBadFilename, "filename must be kebab-case (letters/numbers/dashes)")
	}
	return name, nil
}

// InjectCreator adds a creatorAvatarId meta tag before the first </head>, or
// at the top when there is no head. Text already naming a creator is unchanged.
func InjectCreator(text, avatarID string) string {
	if strings.Contains(strings.ToLower(text), "creatoravatarid") {
		return text
	}
	tag := fmt.Sprintf(`<meta name="creatorAvatarId" content="%s">`+"\n", html.EscapeString(avatarID))
	if loc := headCloseRe.FindStringIndex(text); loc != nil {
		return text[:loc[0]] + tag + text[loc[0]:]
	}
	return tag + text
}

// List returns the catalogue entry of every stored game, newest first. Files
// starting with "_" are templates and stay hidden.
func (s *Service) List(ctx context.Context) ([]artifact.GameMetadata, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	games := make([]artifact.GameMetadata, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name, "_") {
			continue
		}
		data, err := s.store.Get(ctx, e.Name)
		if err != nil {
			logging.Get(logging.CategoryServer).Warn("skipping %s: %v", e.Name, err)
			continue
		}
		games = append(games, artifact.New(e.Name, data).Metadata(e.Name, e.ModTime))
	}
	sort.SliceStable(games, func(i, j int) bool { return games[i].UploadedAt > games[j].UploadedAt })
	return games, nil
}

// Game returns the stored bytes of one game.
func (s *Service) Game(ctx context.Context, name string) ([]byte, error) {
	return s.store.Get(ctx, name)
}

// Avatar is one registry entry. Only "id" is interpreted.
type Avatar map[string]any

// ID returns the avatar id, or "" when missing or not a string.
func (a Avatar) ID() string {
	id, _ := a["id"].(string)
	return id
}

// Avatars loads the registry. The file holds {"avatars":[...]} or a bare
// list; a missing file is an empty registry.
func (s *Service) Avatars() ([]Avatar, error) {
	if s.avatarsPath == "" {
		return []Avatar{}, nil
	}
	data, err := os.ReadFile(s.avatarsPath)
	if errors.Is(err, os.ErrNotExist) {
		return []Avatar{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read avatars: %w", err)
	}

	var wrapped struct {
		Avatars []Avatar `json:"avatars"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Avatars != nil {
		return wrapped.Avatars, nil
	}
	var list []Avatar
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	return []Avatar{}, nil
}

func (s *Service) isKnownAvatar(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	avatars, err := s.Avatars()
	if err != nil {
		return false, err
	}
	for _, a := range avatars {
		if a.ID() == id {
			return true, nil
		}
	}
	return false, nil
}
