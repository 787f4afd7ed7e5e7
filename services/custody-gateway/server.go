package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basketd/core/events"
	"basketd/core/state"
	"basketd/core/types"
	"basketd/gateway/auth"
	"basketd/native/custody"
	"basketd/observability/metrics"
)

type ctxKey string

const (
	ctxCaller    ctxKey = "caller"
	ctxRequestID ctxKey = "requestID"
)

// intervalClock derives a monotonically increasing height from wall time:
// one height per fixed interval since genesis. The custody core only ever
// sees heights, never wall-clock.
type intervalClock struct {
	genesis  int64
	interval int64
	nowFn    func() time.Time
}

func (c *intervalClock) Height() uint64 {
	now := c.nowFn().Unix()
	if now <= c.genesis {
		return 0
	}
	return uint64((now - c.genesis) / c.interval)
}

// logEmitter publishes every accepted transition to the structured log,
// which is the gateway's audit sink.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	l.logger.Info("custody event", attrs...)
}

// Server exposes the custody engine over authenticated HTTP.
type Server struct {
	engine     *custody.Engine
	compliance *custody.Compliance
	manager    *state.Manager
	auth       *auth.Authenticator
	callers    map[string][20]byte
	logger     *slog.Logger
	metrics    *metrics.CustodyMetrics
	router     chi.Router
}

// NewServer wires the HTTP surface around the engine.
func NewServer(engine *custody.Engine, compliance *custody.Compliance, manager *state.Manager, authenticator *auth.Authenticator, callers map[string][20]byte, logger *slog.Logger) *Server {
	s := &Server{
		engine:     engine,
		compliance: compliance,
		manager:    manager,
		auth:       authenticator,
		callers:    callers,
		logger:     logger,
		metrics:    metrics.Custody(),
	}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1/baskets", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/deliver", s.action(custody.OpDeliver, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.Deliver(caller, id)
			}))
			r.Post("/revert", s.action(custody.OpRevert, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.Revert(caller, id)
			}))
			r.Post("/terminate", s.action(custody.OpTerminate, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.Terminate(caller, id)
			}))
			r.Post("/recover", s.action(custody.OpRecoverLapsed, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				err := s.engine.RecoverLapsed(caller, id)
				if err == nil {
					s.metrics.ObserveLapsedRecovery()
				}
				return nil, err
			}))
			r.Post("/approve", s.action(custody.OpApprove, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.Approve(caller, id)
			}))
			r.Post("/extract", s.action(custody.OpExtract, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.Extract(caller, id)
			}))
			r.Post("/timelock", s.action(custody.OpInitiateTimelock, s.handleTimelock))
			r.Post("/release-interval", s.action(custody.OpReleaseInterval, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.ReleaseInterval(caller, id)
			}))
			r.Post("/release-phase", s.action(custody.OpReleasePhase, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.engine.ReleasePhase(caller, id)
			}))
			r.Post("/transition", s.action(custody.OpTransition, s.handleTransition))
			r.Post("/challenge", s.action(custody.OpChallenge, s.handleChallenge))
			r.Post("/adjudicate", s.action(custody.OpAdjudicate, s.handleAdjudicate))
			r.Post("/digest", s.action(custody.OpRecordDigest, s.handleDigest))
			r.Post("/certify", s.action(custody.OpCertify, func(caller [20]byte, id uint64, _ json.RawMessage) (any, error) {
				return nil, s.compliance.RegisterCertification(caller, id)
			}))
		})
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ParseAddress decodes a 20-byte hex address.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, body, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		caller, ok := s.callers[principal.APIKey]
		if !ok {
			writeError(w, http.StatusForbidden, "api key has no caller identity")
			return
		}
		requestID := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), ctxCaller, caller))
		r = r.WithContext(context.WithValue(r.Context(), ctxRequestID, requestID))
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.logger.Info("request",
			slog.String("requestId", requestID),
			slog.String("apiKey", principal.APIKey),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}

type actionFn func(caller [20]byte, id uint64, body json.RawMessage) (any, error)

// action wraps one basket operation handler with id parsing, body decoding,
// metrics and error mapping.
func (s *Server) action(op custody.Operation, fn actionFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := r.Context().Value(ctxCaller).([20]byte)
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid basket id")
			return
		}
		var body json.RawMessage
		if r.Body != nil {
			if raw, readErr := io.ReadAll(r.Body); readErr == nil && len(raw) > 0 {
				body = json.RawMessage(raw)
			}
		}
		result, err := fn(caller, id, body)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveOperation(string(op), outcome)
		if err != nil {
			s.writeCustodyError(w, r, err)
			return
		}
		if result == nil {
			result = map[string]string{"status": "accepted"}
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type createRequest struct {
	Type        string `json:"type"`
	Beneficiary string `json:"beneficiary"`
	ResourceID  uint64 `json:"resourceId"`
	Quantity    string `json:"quantity"`
	Intervals   uint64 `json:"intervals,omitempty"`
	Phases      uint64 `json:"phases,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := r.Context().Value(ctxCaller).([20]byte)
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	beneficiary, err := ParseAddress(req.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, ok := new(big.Int).SetString(req.Quantity, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid quantity")
		return
	}
	var id uint64
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "", "standard":
		id, err = s.engine.CreateBasket(caller, beneficiary, req.ResourceID, quantity)
	case "dual":
		id, err = s.engine.CreateDualApprovalBasket(caller, beneficiary, req.ResourceID, quantity)
	case "time-locked":
		id, err = s.engine.CreateTimeLockedBasket(caller, beneficiary, req.ResourceID, quantity, req.Intervals)
	case "phased":
		id, err = s.engine.CreatePhasedBasket(caller, beneficiary, req.ResourceID, quantity, req.Phases)
	default:
		writeError(w, http.StatusBadRequest, "unknown basket type")
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveOperation("create", outcome)
	if err != nil {
		s.writeCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid basket id")
		return
	}
	basket, err := s.engine.Get(id)
	if err != nil {
		s.writeCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, basketView(basket))
}

func (s *Server) handleTimelock(caller [20]byte, id uint64, body json.RawMessage) (any, error) {
	var req struct {
		UnlockHeight uint64 `json:"unlockHeight"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: missing unlock height", custody.ErrInvalidUnlockHeight)
	}
	unlock, err := s.engine.InitiateTimelock(caller, id, req.UnlockHeight)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"unlockHeight": unlock}, nil
}

func (s *Server) handleTransition(caller [20]byte, id uint64, body json.RawMessage) (any, error) {
	var req struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: missing target status", custody.ErrInvalidTransition)
	}
	target, err := custody.ParseStatus(req.Target)
	if err != nil {
		return nil, err
	}
	return nil, s.engine.Transition(caller, id, target, req.Reason)
}

func (s *Server) handleChallenge(caller [20]byte, id uint64, body json.RawMessage) (any, error) {
	var req struct {
		Justification string `json:"justification"`
	}
	_ = json.Unmarshal(body, &req)
	return nil, s.engine.Challenge(caller, id, req.Justification)
}

func (s *Server) handleAdjudicate(caller [20]byte, id uint64, body json.RawMessage) (any, error) {
	var req struct {
		OriginatorShare uint32 `json:"originatorShare"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: missing originator share", custody.ErrInvalidShare)
	}
	err := s.engine.Adjudicate(caller, id, req.OriginatorShare)
	if err == nil {
		s.metrics.ObserveAdjudication()
	}
	return nil, err
}

func (s *Server) handleDigest(caller [20]byte, id uint64, body json.RawMessage) (any, error) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Payload == "" {
		return nil, fmt.Errorf("digest payload required")
	}
	digest, err := s.compliance.RecordDigest(caller, id, []byte(req.Payload))
	if err != nil {
		return nil, err
	}
	return map[string]string{"digest": hex.EncodeToString(digest[:])}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ConservationCheck(); err != nil {
		var breach *custody.ConservationError
		if errors.As(err, &breach) {
			s.logger.Error("conservation breach", slog.String("detail", breach.Error()))
			writeError(w, http.StatusInternalServerError, "conservation breach")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if escrowed, err := s.manager.EscrowedTotal(); err == nil {
		total, _ := new(big.Float).SetInt(escrowed).Float64()
		s.metrics.SetEscrowedTotal(total)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func basketView(b *custody.Basket) map[string]any {
	return map[string]any{
		"id":                b.ID,
		"originator":        hex.EncodeToString(b.Originator[:]),
		"beneficiary":       hex.EncodeToString(b.Beneficiary[:]),
		"resourceId":        b.ResourceID,
		"deposit":           b.Deposit.String(),
		"quantity":          b.Quantity.String(),
		"status":            b.Status.String(),
		"creationHeight":    b.CreationHeight,
		"terminationHeight": b.TerminationHeight,
		"intervals":         b.Intervals,
		"releasedIntervals": b.ReleasedIntervals,
		"phases":            b.Phases,
		"releasedPhases":    b.ReleasedPhases,
	}
}

func (s *Server) writeCustodyError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := r.Context().Value(ctxRequestID).(string)
	var breach *custody.ConservationError
	status := http.StatusBadRequest
	switch {
	case errors.As(err, &breach):
		s.logger.Error("conservation breach", slog.String("requestId", requestID), slog.String("detail", err.Error()))
		status = http.StatusInternalServerError
	case errors.Is(err, custody.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, custody.ErrInvalidBasketID), errors.Is(err, custody.ErrBasketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, custody.ErrAlreadyProcessed), errors.Is(err, custody.ErrBasketLapsed),
		errors.Is(err, custody.ErrDeadlineNotReached), errors.Is(err, custody.ErrTimelockActive),
		errors.Is(err, custody.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, custody.ErrTransferFailed):
		status = http.StatusUnprocessableEntity
	}
	s.logger.Info("operation rejected",
		slog.String("requestId", requestID),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
