package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mintgate/allowlist"
	"mintgate/eligibility"
	"mintgate/webhook"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// HealthChecker reports whether the backing store is reachable. Used by the
// health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server exposes the gateway HTTP API.
type Server struct {
	allowlist   *allowlist.Service
	eligibility *eligibility.Service
	shareText   *eligibility.ShareTextBuilder
	decoder     *webhook.Decoder
	processor   *webhook.Processor
	store       HealthChecker
	logger      *slog.Logger
	router      http.Handler
}

// NewServer wires the HTTP surface. shareText, decoder and processor may be
// nil when the matching endpoint is not configured; it then responds 404.
func NewServer(list *allowlist.Service, elig *eligibility.Service, shareText *eligibility.ShareTextBuilder, decoder *webhook.Decoder, processor *webhook.Processor, store HealthChecker, logger *slog.Logger) (*Server, error) {
	if list == nil {
		return nil, errors.New("allowlist service required")
	}
	if elig == nil {
		return nil, errors.New("eligibility service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		allowlist:   list,
		eligibility: elig,
		shareText:   shareText,
		decoder:     decoder,
		processor:   processor,
		store:       store,
		logger:      logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(api chi.Router) {
		api.Get("/allowlist/status", s.handleAllowlistStatus)
		api.Get("/allowlist/proof", s.handleAllowlistProof)
		api.Get("/allowlist/root", s.handleAllowlistRoot)
		api.Get("/eligibility/check", s.handleEligibilityCheck)
		api.Post("/eligibility/join", s.handleEligibilityJoin)
		if s.shareText != nil {
			api.Get("/share/text", s.handleShareText)
		}
		if s.decoder != nil && s.processor != nil {
			api.Post("/webhook", s.handleWebhook)
		}
	})
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleAllowlistStatus(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	member, err := s.allowlist.IsMember(r.Context(), address)
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	normalized, _ := allowlist.NormalizeAddress(address)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":       normalized,
		"isAllowlisted": member,
	})
}

func (s *Server) handleAllowlistProof(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	proof, err := s.allowlist.Proof(r.Context(), address)
	if errors.Is(err, allowlist.ErrNotAMember) {
		// Not being on the list is an answer, not an error.
		s.writeJSON(w, http.StatusOK, map[string]any{
			"proof":   []string{},
			"isValid": false,
		})
		return
	}
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	root, err := s.allowlist.Root(r.Context())
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	encoded := make([]string, len(proof))
	for i, h := range proof {
		encoded[i] = h.Hex()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"proof":   encoded,
		"root":    root.Hex(),
		"isValid": true,
	})
}

func (s *Server) handleAllowlistRoot(w http.ResponseWriter, r *http.Request) {
	root, err := s.allowlist.Root(r.Context())
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"root": root.Hex()})
}

func (s *Server) handleEligibilityCheck(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	address := query.Get("address")
	in, err := checkInputFromQuery(query)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MGT-400", err.Error())
		return
	}
	verdict, err := s.eligibility.Check(r.Context(), address, in)
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, verdict)
}

type joinRequest struct {
	Address          string `json:"address"`
	FID              uint64 `json:"fid"`
	XFollowConfirmed bool   `json:"xFollowConfirmed"`
	CastHash         string `json:"castHash"`
	ShareRequired    bool   `json:"shareRequired"`
}

func (s *Server) handleEligibilityJoin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MGT-400", "unable to read request body")
		return
	}
	var req joinRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "MGT-400", "invalid JSON payload")
		return
	}
	in := eligibility.CheckInput{
		FID:              req.FID,
		XFollowConfirmed: req.XFollowConfirmed,
		CastHash:         req.CastHash,
		ShareRequired:    req.ShareRequired,
	}
	result, err := s.eligibility.Join(r.Context(), req.Address, in)
	if err != nil {
		s.writeAllowlistError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleShareText(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("fid"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "MGT-400", "missing fid parameter")
		return
	}
	fid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || fid == 0 {
		s.writeError(w, http.StatusBadRequest, "MGT-400", "invalid fid parameter")
		return
	}
	s.writeJSON(w, http.StatusOK, s.shareText.Build(r.Context(), fid))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MGT-400", "unable to read request body")
		return
	}
	event, err := s.decoder.Decode(r.Context(), body)
	if err != nil {
		s.writeWebhookError(w, err)
		return
	}
	if err := s.processor.Process(r.Context(), event); err != nil {
		if errors.Is(err, webhook.ErrMalformedEvent) {
			s.writeError(w, http.StatusBadRequest, "MGT-400", err.Error())
			return
		}
		s.logger.Error("webhook event processing failed", "fid", event.EventFID(), "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "MGT-503", "event could not be applied")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Health(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"error":  "storage unreachable",
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func checkInputFromQuery(query interface{ Get(string) string }) (eligibility.CheckInput, error) {
	in := eligibility.CheckInput{}
	if raw := strings.TrimSpace(query.Get("fid")); raw != "" {
		fid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return in, errors.New("fid must be a positive integer")
		}
		in.FID = fid
	}
	in.XFollowConfirmed = parseBool(query.Get("xFollowConfirmed"))
	in.ShareRequired = parseBool(query.Get("shareRequired"))
	in.CastHash = strings.TrimSpace(query.Get("castHash"))
	return in, nil
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

// writeAllowlistError maps domain sentinels onto HTTP statuses.
func (s *Server) writeAllowlistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allowlist.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, "MGT-400", "invalid EVM address")
	case errors.Is(err, allowlist.ErrStorageUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "MGT-503", "allowlist storage unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "MGT-500", "internal error")
	}
}

func (s *Server) writeWebhookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		s.writeError(w, http.StatusUnauthorized, "MGT-401", "invalid event signature")
	case errors.Is(err, webhook.ErrVerifierUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "MGT-503", "app key verification unavailable")
	case errors.Is(err, webhook.ErrMalformedEvent):
		s.writeError(w, http.StatusBadRequest, "MGT-400", err.Error())
	default:
		s.logger.Error("webhook decode failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "MGT-500", "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "MGT-500", "encoding failure")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
