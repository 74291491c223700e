package service

import (
	"encoding/json"
	"fmt"

	"investorkonnect-signing/internal/domain"
)

// connectEvent DocuSign Connect（JSON SIM）推送
type connectEvent struct {
	Event string `json:"event"`
	Data  struct {
		EnvelopeID      string `json:"envelopeId"`
		EnvelopeSummary struct {
			EnvelopeID string                     `json:"envelopeId"`
			Status     string                     `json:"status"`
			Recipients docusignRecipientsResponse `json:"recipients"`
		} `json:"envelopeSummary"`
	} `json:"data"`
}

// ConnectSnapshot 一次推送中的信封签署人快照
type ConnectSnapshot struct {
	Event      string
	EnvelopeID string
	Recipients []domain.RecipientStatus
}

// ParseConnectEvent decodes a Connect JSON payload.
func ParseConnectEvent(body []byte) (ConnectSnapshot, error) {
	var ev connectEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ConnectSnapshot{}, &BadRequestError{Msg: fmt.Sprintf("invalid connect payload: %v", err)}
	}

	envelopeID := ev.Data.EnvelopeID
	if envelopeID == "" {
		envelopeID = ev.Data.EnvelopeSummary.EnvelopeID
	}
	if envelopeID == "" {
		return ConnectSnapshot{}, &BadRequestError{Msg: "envelopeId is required"}
	}

	signers := ev.Data.EnvelopeSummary.Recipients.Signers
	out := ConnectSnapshot{
		Event:      ev.Event,
		EnvelopeID: envelopeID,
		Recipients: make([]domain.RecipientStatus, 0, len(signers)),
	}
	for _, s := range signers {
		out.Recipients = append(out.Recipients, domain.RecipientStatus{
			RecipientID:    s.RecipientID,
			Status:         s.Status,
			SignedDateTime: parseProviderTime(s.SignedDateTime),
		})
	}
	return out, nil
}
