package serve

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/gftdcojp/storage-tiers/internal/tier"
	"go.uber.org/zap"
)

// ActorHeader names the administrator on whose behalf a request is made.
const ActorHeader = "X-Actor"

type handler struct {
	tiers   *tier.Service
	token   string
	maxBody int64
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler builds the administrative API. Every route but /v1/status
// requires "Authorization: Bearer <auth_token>".
func NewHandler(cfg config.APIConfig, svc *tier.Service, logger *zap.Logger) http.Handler {
	h := &handler{
		tiers:   svc,
		token:   cfg.AuthToken,
		maxBody: int64(cfg.MaxRequestBytes),
		timeout: cfg.RequestTimeout.Duration(),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)

	mux.HandleFunc("POST /v1/systems/{system}/tiers", h.admin(h.handleCreateTier))
	mux.HandleFunc("GET /v1/systems/{system}/tiers/{name}", h.admin(h.handleReadTier))
	mux.HandleFunc("PATCH /v1/systems/{system}/tiers/{name}", h.admin(h.handleUpdateTier))
	mux.HandleFunc("DELETE /v1/systems/{system}/tiers/{name}", h.admin(h.handleDeleteTier))

	mux.HandleFunc("POST /v1/systems/{system}/policies", h.admin(h.handleCreatePolicy))
	mux.HandleFunc("GET /v1/systems/{system}/policies/{name}", h.admin(h.handleReadPolicy))
	mux.HandleFunc("PUT /v1/systems/{system}/policies/{name}", h.admin(h.handleUpdatePolicy))
	mux.HandleFunc("DELETE /v1/systems/{system}/policies/{name}", h.admin(h.handleDeletePolicy))
	mux.HandleFunc("GET /v1/systems/{system}/policies/{name}/pools", h.admin(h.handlePolicyPools))

	return mux
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, svc *tier.Service, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(cfg, svc, logger),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// admin rejects unauthenticated callers and bounds the request in size and
// time.
func (h *handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r.Header.Get("Authorization"), h.token) {
			writeJSON(w, http.StatusUnauthorized, unauthorizedReply)
			return
		}
		if h.maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		}
		if h.timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next(w, r)
	}
}

var unauthorizedReply = ErrorReply{Error: ErrorBody{
	Code: CodeUnauthorized, Message: "administrative credentials required",
}}

// authorized checks an "Authorization: Bearer <token>" value. An empty
// configured token authorizes nobody.
func authorized(header, want string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	return ok && want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

func actor(r *http.Request) string {
	if a := r.Header.Get(ActorHeader); a != "" {
		return a
	}
	return "admin"
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding request body: %v", tier.ErrBadRequest, err)
	}
	return nil
}

// reply writes the result of op, or nothing but its error.
func (h *handler) reply(w http.ResponseWriter, r *http.Request, op string, v interface{}, err error, status int) {
	observe(op, err)
	if err != nil {
		if tier.Code(err) == tier.CodeInternal {
			h.logger.Error("admin operation failed",
				zap.String("op", op),
				zap.String("system", r.PathValue("system")),
				zap.Error(err),
			)
		}
		writeError(w, err)
		return
	}
	// the caller gave up; drop the report
	if r.Context().Err() != nil {
		return
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleCreateTier(w http.ResponseWriter, r *http.Request) {
	var req tier.CreateTierRequest
	if err := decodeBody(r, &req); err != nil {
		h.reply(w, r, "create_tier", nil, err, 0)
		return
	}
	info, err := h.tiers.CreateTier(r.Context(), r.PathValue("system"), req)
	h.reply(w, r, "create_tier", info, err, http.StatusCreated)
}

func (h *handler) handleReadTier(w http.ResponseWriter, r *http.Request) {
	info, err := h.tiers.ReadTier(r.Context(), r.PathValue("system"), r.PathValue("name"))
	h.reply(w, r, "read_tier", info, err, http.StatusOK)
}

func (h *handler) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	var req tier.UpdateTierRequest
	if err := decodeBody(r, &req); err != nil {
		h.reply(w, r, "update_tier", nil, err, 0)
		return
	}
	req.Name = r.PathValue("name")
	info, err := h.tiers.UpdateTier(r.Context(), r.PathValue("system"), actor(r), req)
	h.reply(w, r, "update_tier", info, err, http.StatusOK)
}

func (h *handler) handleDeleteTier(w http.ResponseWriter, r *http.Request) {
	err := h.tiers.DeleteTier(r.Context(), r.PathValue("system"), r.PathValue("name"))
	h.reply(w, r, "delete_tier", nil, err, http.StatusNoContent)
}

func (h *handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req tier.CreatePolicyRequest
	if err := decodeBody(r, &req); err != nil {
		h.reply(w, r, "create_policy", nil, err, 0)
		return
	}
	info, err := h.tiers.CreatePolicy(r.Context(), r.PathValue("system"), req)
	h.reply(w, r, "create_policy", info, err, http.StatusCreated)
}

func (h *handler) handleReadPolicy(w http.ResponseWriter, r *http.Request) {
	info, err := h.tiers.ReadPolicy(r.Context(), r.PathValue("system"), r.PathValue("name"))
	h.reply(w, r, "read_policy", info, err, http.StatusOK)
}

func (h *handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	info, err := h.tiers.UpdatePolicy(r.Context(), r.PathValue("system"), tier.CreatePolicyRequest{Name: r.PathValue("name")})
	h.reply(w, r, "update_policy", info, err, http.StatusOK)
}

func (h *handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	err := h.tiers.DeletePolicy(r.Context(), r.PathValue("system"), r.PathValue("name"))
	h.reply(w, r, "delete_policy", nil, err, http.StatusNoContent)
}

func (h *handler) handlePolicyPools(w http.ResponseWriter, r *http.Request) {
	info, err := h.tiers.GetPolicyPools(r.Context(), r.PathValue("system"), r.PathValue("name"))
	h.reply(w, r, "get_policy_pools", info, err, http.StatusOK)
}
