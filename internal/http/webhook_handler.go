package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/service"

	"go.uber.org/zap"
)

// DocuSign Connect 会按密钥依次发送 X-DocuSign-Signature-1..N
const (
	docusignSignatureHeader = "X-DocuSign-Signature-"
	maxSignatureHeaders     = 10
)

// WebhookHandler DocuSign Connect 推送（第二写入方）
type WebhookHandler struct {
	agreements repository.AgreementsRepo
	svc        service.ReconcileService
	secret     string
	logger     *zap.Logger
}

func NewWebhookHandler(agreements repository.AgreementsRepo, svc service.ReconcileService, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{agreements: agreements, svc: svc, secret: secret, logger: logger}
}

func (h *WebhookHandler) DocusignConnect(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.secret) == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !verifyConnectSignature(r.Header, body, h.secret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	snap, err := service.ParseConnectEvent(body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	ctx := r.Context()
	a, err := h.agreements.GetAgreementByEnvelopeID(ctx, snap.EnvelopeID)
	if err != nil {
		writeServiceError(w, h.logger, fmt.Errorf("failed to resolve envelope: %w", err))
		return
	}
	if a == nil {
		// 非本系统信封：返回 200，避免 provider 无限重试
		h.logger.Info("Ignoring Connect event for unknown envelope", zap.String("envelope_id", snap.EnvelopeID))
		writeJSON(w, http.StatusOK, service.ReconcileResult{Status: service.StatusIgnored})
		return
	}

	res, err := h.svc.ApplySnapshot(ctx, a, snap.Recipients)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("Connect event applied",
		zap.String("event", snap.Event),
		zap.String("agreement_id", a.ID),
		zap.String("status", res.Status),
	)
	writeJSON(w, http.StatusOK, res)
}

// verifyConnectSignature HMAC-SHA256(body) base64，任一签名头匹配即通过
func verifyConnectSignature(headers http.Header, body []byte, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	for i := 1; i <= maxSignatureHeaders; i++ {
		sig := strings.TrimSpace(headers.Get(fmt.Sprintf("%s%d", docusignSignatureHeader, i)))
		if sig == "" {
			break
		}
		provided, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, provided) {
			return true
		}
	}
	return false
}
