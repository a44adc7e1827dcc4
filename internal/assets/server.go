// Package assets serves one candidate and the host SDK over a loopback HTTP
// endpoint for the duration of a single runtime check.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"gamegate/internal/logging"
)

// ErrSDKMissing is returned by Start when the SDK asset does not exist.
var ErrSDKMissing = errors.New("missing SDK file")

const shutdownTimeout = 2 * time.Second

// DefaultSDKName is the file name games load the SDK from.
const DefaultSDKName = "maribro-sdk.js"

// Options describes what one server instance exposes.
type Options struct {
	CandidatePath string // file copied in as EntryName
	Candidate     []byte // used instead of CandidatePath when non-nil
	SDKPath       string // host SDK asset on disk, any file name
	SDKName       string // name the SDK is served under; empty means DefaultSDKName
	EntryName     string // fixed entry filename, e.g. game.html
}

// Server is a short-lived file server over a private temporary directory.
type Server struct {
	root     string
	entry    string
	sdkName  string
	listener net.Listener
	srv      *http.Server
	done     chan struct{}

	mu   sync.Mutex
	hits map[string]int

	closeOnce sync.Once
	closeErr  error
}

// Start copies the candidate and SDK into a fresh temp dir and begins serving
// on an OS-assigned 127.0.0.1 port. The caller must Close the server.
func Start(opts Options) (*Server, error) {
	if opts.EntryName == "" || opts.EntryName != filepath.Base(opts.EntryName) {
		return nil, fmt.Errorf("invalid entry name %q", opts.EntryName)
	}
	sdkName := opts.SDKName
	if sdkName == "" {
		sdkName = DefaultSDKName
	}
	if sdkName != filepath.Base(sdkName) || sdkName == opts.EntryName {
		return nil, fmt.Errorf("invalid sdk name %q", sdkName)
	}
	if _, err := os.Stat(opts.SDKPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSDKMissing, opts.SDKPath)
	}

	root, err := os.MkdirTemp("", "gamegate-run-")
	if err != nil {
		return nil, fmt.Errorf("create serving root: %w", err)
	}

	s := &Server{
		root:    root,
		entry:   opts.EntryName,
		sdkName: sdkName,
		done:    make(chan struct{}),
		hits:    make(map[string]int),
	}

	if err := s.stage(opts); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("bind loopback: %w", err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Get(logging.CategoryAssets).Warn("serve %s: %v", s.BaseURL(), err)
		}
	}()

	logging.Get(logging.CategoryAssets).Debug("serving %s from %s", s.BaseURL(), root)
	return s, nil
}

func (s *Server) stage(opts Options) error {
	candidate := opts.Candidate
	if candidate == nil {
		data, err := os.ReadFile(opts.CandidatePath)
		if err != nil {
			return fmt.Errorf("read candidate: %w", err)
		}
		candidate = data
	}
	if err := os.WriteFile(filepath.Join(s.root, s.entry), candidate, 0o644); err != nil {
		return fmt.Errorf("stage candidate: %w", err)
	}

	sdk, err := os.ReadFile(opts.SDKPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSDKMissing, opts.SDKPath, err)
	}
	if err := os.WriteFile(filepath.Join(s.root, s.sdkName), sdk, 0o644); err != nil {
		return fmt.Errorf("stage sdk: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	files := http.FileServer(http.Dir(s.root))
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.hits[path.Clean(req.URL.Path)]++
		s.mu.Unlock()
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, req)
	})
	return r
}

// BaseURL is the root URL of the server, without a trailing slash.
func (s *Server) BaseURL() string {
	return "http://" + s.listener.Addr().String()
}

// EntryURL is the URL of the staged candidate.
func (s *Server) EntryURL() string {
	return s.BaseURL() + "/" + s.entry
}

// Root is the serving directory. It no longer exists after Close.
func (s *Server) Root() string {
	return s.root
}

// Served reports how many requests hit /name.
func (s *Server) Served(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/"+name]
}

// SDKServed reports whether the page requested the SDK asset.
func (s *Server) SDKServed() bool {
	return s.Served(s.sdkName) > 0
}

// Close stops the server and removes the serving directory. It is safe to call
// more than once; later calls return the first result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
			_ = s.srv.Close()
		}
		<-s.done
		if err := os.RemoveAll(s.root); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.root, err))
		}
		s.closeErr = errors.Join(errs...)
		logging.Get(logging.CategoryAssets).Debug("closed %s", s.root)
	})
	return s.closeErr
}
