package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensecli/internal/gate"
	"licensecli/internal/infrastructure"
	"licensecli/internal/websocket"
)

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, data any)
}

// GateHandler serves /api/gate.
type GateHandler struct {
	gate        *gate.Gate
	authorized  func(context.Context) bool
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewGateHandler creates a gate handler. authorized, when non-nil, must
// report true before a privileged operation may start. broadcaster may be
// nil.
func NewGateHandler(g *gate.Gate, authorized func(context.Context) bool, b Broadcaster, logger *slog.Logger) *GateHandler {
	return &GateHandler{
		gate:        g,
		authorized:  authorized,
		broadcaster: b,
		logger:      infrastructure.WithComponent(logger, "gate_handler"),
	}
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	Source string `json:"source" validate:"required,max=128"`
	Target string `json:"target" validate:"required,max=128"`
}

// StopRequest is the body of POST /stop.
type StopRequest struct {
	Source string `json:"source" validate:"required,max=128"`
}

// Routes returns the /api/gate router.
func (h *GateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/start", h.Start)
	r.Post("/stop", h.Stop)
	return r
}

// Get handles GET /api/gate.
func (h *GateHandler) Get(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.gate.Info())
}

// Start handles POST /api/gate/start. A busy gate answers 409 and the
// caller is expected to retry later.
func (h *GateHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		writeError(w, r, apiErr)
		return
	}
	ctx := r.Context()

	if h.authorized != nil && !h.authorized(ctx) {
		writeError(w, r, NewAPIError(http.StatusForbidden, CodeNotAuthenticated,
			"A verified license is required"))
		return
	}

	if !h.gate.TryStart(req.Source, req.Target) {
		current := h.gate.Info()
		h.logger.InfoContext(ctx, "Gate busy",
			slog.String("source", req.Source),
			slog.String("held_by", current.Source))
		writeError(w, r, &APIError{
			StatusCode: http.StatusConflict,
			ErrorCode:  CodeGateBusy,
			Message:    "Another operation is already running",
			Details:    GateDetails{Status: current.Status},
		})
		return
	}

	info := h.gate.Info()
	h.logger.InfoContext(ctx, "Gate acquired",
		slog.String("source", req.Source),
		slog.String("target", req.Target))
	h.publish(ctx, info)
	render.JSON(w, r, info)
}

// Stop handles POST /api/gate/stop.
func (h *GateHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if apiErr := decode(w, r, &req); apiErr != nil {
		writeError(w, r, apiErr)
		return
	}
	ctx := r.Context()

	h.gate.Stop(req.Source)
	info := h.gate.Info()
	h.logger.InfoContext(ctx, "Gate released", slog.String("source", req.Source))
	h.publish(ctx, info)
	render.JSON(w, r, info)
}

func (h *GateHandler) publish(ctx context.Context, info gate.Info) {
	if h.broadcaster != nil {
		h.broadcaster.Broadcast(ctx, websocket.TypeGateStatus, info)
	}
}
