package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"gamegate/internal/config"
	"gamegate/internal/gamestore"
	"gamegate/internal/logging"
	"gamegate/internal/rules"
	"gamegate/internal/upload"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game upload API",
	Long: `Serves POST /api/games for uploads (token protected), GET /api/games for the
catalogue, GET /api/avatars, stored games under /games/ and the public
directory (SDK) at /.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	handler, err := newServeHandler(ctx, cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, ln, handler, cfg)
}

// newServeHandler wires storage, the upload rule subset and the router.
func newServeHandler(ctx context.Context, c *config.Config) (http.Handler, error) {
	store, err := gamestore.Open(ctx, c.Storage, c.Server.GamesDir)
	if err != nil {
		return nil, fmt.Errorf("open game store: %w", err)
	}
	engine := rules.NewEngine(rules.Params{
		MaxBytes:                  c.Server.MaxUploadBytes,
		RenderTextThreshold:       c.Verify.RenderTextThreshold,
		EnforceMultiplayerMarkers: c.Verify.EnforceMultiplayerMarkers,
	})
	svc := upload.NewService(upload.Options{
		Store:       store,
		Engine:      engine,
		UploadToken: c.Server.UploadToken,
		AvatarsPath: c.Server.AvatarsPath,
	})
	return upload.NewRouter(svc, upload.RouterOptions{
		AllowedOrigins: c.Server.AllowedOrigins,
		PublicDir:      c.Server.PublicDir,
		MaxUploadBytes: c.Server.MaxUploadBytes,
	}), nil
}

// serve runs until ctx is cancelled or the server fails, then shuts down
// gracefully. ln is capped at server.max_conns concurrent connections.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, c *config.Config) error {
	if c.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, c.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  c.GetReadTimeout(),
		WriteTimeout: c.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Get(logging.CategoryServer).Info("listening on http://%s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logging.Get(logging.CategoryServer).Info("server stopped")
		return nil
	})
	return g.Wait()
}
