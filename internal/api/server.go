package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/dkarimoff/evoinbox/internal/dispatch"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/dkarimoff/evoinbox/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Syncer is the engine surface the API uses.
type Syncer interface {
	Load(ctx context.Context) error
	OpenConversation(ctx context.Context, remoteJID string) error
	CloseConversation()
}

// Commander is the dispatcher surface the API uses.
type Commander interface {
	SendText(ctx context.Context, remoteJID, text string) error
	SendMedia(ctx context.Context, remoteJID string, media gateway.Media) error
	SendMediaFile(ctx context.Context, remoteJID, mediatype, fileName, caption string, file io.Reader) error
	SendLocation(ctx context.Context, remoteJID string, loc gateway.Location) error
	SendContact(ctx context.Context, remoteJID string, cards []gateway.ContactCard) error
	SendReaction(ctx context.Context, remoteJID, messageID, reaction string) error
	SendButtons(ctx context.Context, remoteJID, title, description, footer string, buttons []gateway.Button) error
	SendList(ctx context.Context, remoteJID, title, description, buttonText, footer string, sections []gateway.ListSection) error
	SendPoll(ctx context.Context, remoteJID, name string, selectableCount int, values []string) error
	EditMessage(ctx context.Context, remoteJID, messageID, text string) error
	UpdateLabels(ctx context.Context, conversationID string, labels []inbox.LabelTag) error
	MarkRead(ctx context.Context, remoteJID string) error
	MarkUnread(ctx context.Context, remoteJID string) error
	SetBlocked(ctx context.Context, remoteJID string, blocked bool) error
	SetAutoReply(remoteJID string, enabled bool) error
}

// InstanceAdmin is the gateway instance-management surface the API uses.
type InstanceAdmin interface {
	FetchInstances(ctx context.Context) ([]gateway.InstanceInfo, error)
	CreateInstance(ctx context.Context, name string) (*gateway.InstanceInfo, error)
	ConnectInstance(ctx context.Context, instance string) (*gateway.Pairing, error)
	RestartInstance(ctx context.Context, instance string) error
	LogoutInstance(ctx context.Context, instance string) error
	DeleteInstance(ctx context.Context, instance string) error
	ConnectionState(ctx context.Context, instance string) (string, error)
	FindContacts(ctx context.Context, instance, remoteJID string) ([]gateway.ContactRecord, error)
}

// Preferences pins the preferred gateway instance.
type Preferences interface {
	Preferred() (id, name string)
	SetPreferred(id, name string) error
}

// Watcher follows the open conversation's instance connection state.
type Watcher interface {
	Watch(ctx context.Context, instanceID, instanceName string)
}

// Server is the daemon's HTTP API.
type Server struct {
	conversations *inbox.Conversations
	messages      *inbox.Messages
	engine        Syncer
	commands      Commander
	instances     InstanceAdmin
	prefs         Preferences
	watcher       Watcher
	bus           *bus.Bus
	metrics       *metrics.Metrics
	validate      *validator.Validate
	logger        *zap.Logger
	router        chi.Router
}

// NewServer wires the API routes.
func NewServer(conversations *inbox.Conversations, messages *inbox.Messages, engine Syncer, commands Commander, instances InstanceAdmin, prefs Preferences, watcher Watcher, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		conversations: conversations,
		messages:      messages,
		engine:        engine,
		commands:      commands,
		instances:     instances,
		prefs:         prefs,
		watcher:       watcher,
		bus:           b,
		metrics:       m,
		validate:      validator.New(),
		logger:        logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", s.handleListConversations)
		r.Post("/reload", s.handleReload)
		r.Get("/labels", s.handleListLabels)
		r.Get("/contacts", s.handleFindContacts)
		r.Get("/export.xlsx", s.handleExport)

		r.Route("/conversations/{jid}", func(r chi.Router) {
			r.Post("/open", s.handleOpenConversation)
			r.Post("/close", s.handleCloseConversation)
			r.Get("/messages", s.handleListMessages)
			r.Post("/read", s.handleMarkRead)
			r.Post("/unread", s.handleMarkUnread)
			r.Post("/autopilot", s.handleAutopilot)
			r.Post("/block", s.handleBlockContact)
			r.Put("/labels", s.handleUpdateLabels)
			r.Post("/messages/{id}/edit", s.handleEditMessage)

			r.Post("/send/text", s.handleSendText)
			r.Post("/send/media", s.handleSendMedia)
			r.Post("/send/media-file", s.handleSendMediaFile)
			r.Post("/send/location", s.handleSendLocation)
			r.Post("/send/contact", s.handleSendContact)
			r.Post("/send/reaction", s.handleSendReaction)
			r.Post("/send/buttons", s.handleSendButtons)
			r.Post("/send/list", s.handleSendList)
			r.Post("/send/poll", s.handleSendPoll)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Post("/", s.handleCreateInstance)
			r.Get("/{name}/qr", s.handleInstanceQR)
			r.Get("/{name}/state", s.handleInstanceState)
			r.Post("/{name}/restart", s.handleRestartInstance)
			r.Post("/{name}/logout", s.handleLogoutInstance)
			r.Delete("/{name}", s.handleDeleteInstance)
		})
		r.Get("/preferred-instance", s.handleGetPreferred)
		r.Put("/preferred-instance", s.handleSetPreferred)
	})
	return r
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Warn("response encode failed", zap.Error(err))
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), apiError{Error: err.Error()})
}

func statusFor(err error) int {
	var apiErr *gateway.APIError
	var invalid validator.ValidationErrors
	switch {
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrUnknownConversation):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInstanceOffline), errors.Is(err, dispatch.ErrAutoReplyActive):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode unmarshals and validates a JSON request body.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return s.validate.Struct(v)
}

var errBadBody = errors.New("malformed request body")
