package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VisoroGroup/Voice-to-text/internal/dedup"
	"github.com/VisoroGroup/Voice-to-text/internal/notify"
	"github.com/VisoroGroup/Voice-to-text/internal/pipeline"
	"github.com/VisoroGroup/Voice-to-text/internal/store"
	"github.com/VisoroGroup/Voice-to-text/pkg/jwt"
)

// Options carries the boundary configuration of the HTTP server.
type Options struct {
	Addr              string
	VerifyToken       string
	AdminPasswordHash string // empty disables dashboard auth
}

// Archive is the slice of the voice-note archive the API needs: replay
// links for stored records and cleanup when a record is deleted.
type Archive interface {
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	DeleteVoiceNote(ctx context.Context, objectName string) error
}

type Server struct {
	store       *store.Store
	hub         *notify.Hub
	queue       *pipeline.Queue
	transcriber pipeline.Transcriber
	archive     Archive      // nil when the archive is disabled
	dedup       *dedup.Cache // nil when dedup is disabled
	jwtService  *jwt.Service
	opts        Options
	log         *log.Logger
	httpServer  *http.Server
}

// New creates the HTTP server exposing the webhook intake, the manual
// upload boundary, and the dashboard API.
func New(
	opts Options,
	recordStore *store.Store,
	hub *notify.Hub,
	queue *pipeline.Queue,
	transcriber pipeline.Transcriber,
	archive Archive,
	dedupCache *dedup.Cache,
	jwtService *jwt.Service,
	logger *log.Logger,
) *Server {
	s := &Server{
		store:       recordStore,
		hub:         hub,
		queue:       queue,
		transcriber: transcriber,
		archive:     archive,
		dedup:       dedupCache,
		jwtService:  jwtService,
		opts:        opts,
		log:         logger,
	}

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual uploads wait on transcription
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.log.Info("HTTP server starting", "address", s.opts.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
