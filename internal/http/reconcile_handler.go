package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/ratelimit"
	"investorkonnect-signing/internal/service"

	"go.uber.org/zap"
)

// ReconcileHandler POST /api/v1/agreements/reconcile
type ReconcileHandler struct {
	svc      service.ReconcileService
	limiter  *ratelimit.MapLimiter
	deadline time.Duration
	logger   *zap.Logger
}

func NewReconcileHandler(svc service.ReconcileService, limiter *ratelimit.MapLimiter, deadline time.Duration, logger *zap.Logger) *ReconcileHandler {
	return &ReconcileHandler{svc: svc, limiter: limiter, deadline: deadline, logger: logger}
}

type reconcileRequest struct {
	AgreementID string `json:"agreement_id"`
	Role        string `json:"role"`
}

func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req reconcileRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AgreementID = strings.TrimSpace(req.AgreementID)
	if req.AgreementID == "" {
		writeError(w, http.StatusBadRequest, "agreement_id is required")
		return
	}
	role, err := domain.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.limiter.Allow(req.AgreementID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "too many reconcile requests for this agreement")
		return
	}

	ctx := r.Context()
	if h.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deadline)
		defer cancel()
	}

	res, err := h.svc.Reconcile(ctx, req.AgreementID, role)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Reconcile finished",
		zap.String("user_id", userID),
		zap.String("agreement_id", req.AgreementID),
		zap.String("role", string(role)),
		zap.String("status", res.Status),
	)
	writeJSON(w, http.StatusOK, res)
}
