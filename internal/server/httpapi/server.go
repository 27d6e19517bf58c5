// Package httpapi exposes the REST surface of the vaultfs server: the
// auth endpoints, the wrapped-keyring feed, node storage, sharing and
// revocation. Every payload that matters is ciphertext before it gets
// here; the handlers move opaque bytes between the wire and the services.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/vaultfs/vaultfs/internal/keyring"
	"github.com/vaultfs/vaultfs/internal/logging"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/services"
)

// Service dependencies, narrowed to what the handlers call so tests can
// substitute fakes.

type userService interface {
	Register(ctx context.Context, user *models.User) (*models.User, error)
	GetSalt(ctx context.Context, userName string) ([]byte, error)
	Login(ctx context.Context, userName string, verifierCandidate []byte) (*models.User, *services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ChangePassword(ctx context.Context, userID string, salt, verifier, encPrivateKey []byte) error
	GetPublicKey(ctx context.Context, userName string) ([]byte, error)
}

type keyringService interface {
	GetTree(ctx context.Context, userID string) (*keyring.WireKeyring, error)
}

type nodeService interface {
	CreateFolder(ctx context.Context, userID, parentID string, nameCT, wrappedKey []byte) (string, error)
	UploadFile(ctx context.Context, userID, parentID string, nameCT, wrappedKey, content []byte) (string, error)
	Download(ctx context.Context, userID, nodeID string) ([]byte, error)
	WriteFile(ctx context.Context, userID, nodeID string, content []byte) error
	Delete(ctx context.Context, userID, nodeID string) error
}

type sharingService interface {
	Share(ctx context.Context, grantorID, nodeID, granteeName string, wrappedKey []byte, role string) error
}

type revocationService interface {
	Holders(ctx context.Context, callerID, nodeID string) ([]services.HolderInfo, error)
	Revoke(ctx context.Context, revokerID string, batch *services.RevokeBatch) error
}

// Server is the HTTP front of the vaultfs server.
type Server struct {
	address   string
	logger    logging.Logger
	users     userService
	keyrings  keyringService
	nodes     nodeService
	sharing   sharingService
	revoking  revocationService
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, us userService, ks keyringService, ns nodeService, ss sharingService, rs revocationService, secretKey string) *Server {
	return &Server{
		address:   address,
		logger:    l.With("module", "http_server"),
		users:     us,
		keyrings:  ks,
		nodes:     ns,
		sharing:   ss,
		revoking:  rs,
		jwtSecret: []byte(secretKey),
	}
}

// Routes builds the request mux. Auth endpoints are open; everything
// else sits behind the bearer-token middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("GET /auth/salt/{user}", s.handleGetSalt)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	mux.Handle("POST /auth/change_password", s.withAuth(s.handleChangePassword))
	mux.Handle("GET /pubkey/{user}", s.withAuth(s.handleGetPublicKey))
	mux.Handle("GET /keyring", s.withAuth(s.handleGetKeyring))
	mux.Handle("POST /folder", s.withAuth(s.handleCreateFolder))
	mux.Handle("POST /file", s.withAuth(s.handleUploadFile))
	mux.Handle("GET /file/{id}", s.withAuth(s.handleDownloadFile))
	mux.Handle("PUT /file/{id}", s.withAuth(s.handleWriteFile))
	mux.Handle("DELETE /node/{id}", s.withAuth(s.handleDeleteNode))
	mux.Handle("GET /node/{id}/holders", s.withAuth(s.handleGetHolders))
	mux.Handle("POST /share", s.withAuth(s.handleShare))
	mux.Handle("POST /revoke", s.withAuth(s.handleRevoke))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
