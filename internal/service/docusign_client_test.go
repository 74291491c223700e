package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDocusignClient_ListRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/restapi/v2.1/accounts/acct-1/envelopes/env-1/recipients", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signers":[
			{"recipientId":"1","status":"completed","signedDateTime":"2026-05-01T10:00:00.1230000Z"},
			{"recipientId":"2","status":"sent"}
		]}`))
	}))
	defer srv.Close()

	c := NewDocusignClient(srv.URL, "acct-1", zap.NewNop())
	list, err := c.ListRecipients(context.Background(), domain.ProviderSession{AccessToken: "tok"}, "env-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	inv, ok := domain.FindRecipient(list, "1")
	require.True(t, ok)
	assert.True(t, inv.Completed())
	require.NotNil(t, inv.SignedDateTime)
	assert.Equal(t, 2026, inv.SignedDateTime.Year())

	agent, ok := domain.FindRecipient(list, "2")
	require.True(t, ok)
	assert.False(t, agent.Completed())
	assert.Nil(t, agent.SignedDateTime)
}

func TestDocusignClient_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorCode":"USER_AUTHENTICATION_FAILED"}`))
	}))
	defer srv.Close()

	c := NewDocusignClient(srv.URL, "acct-1", zap.NewNop())
	_, err := c.ListRecipients(context.Background(), domain.ProviderSession{AccessToken: "tok"}, "env-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDocusignClient_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := NewDocusignClient(srv.URL, "acct-1", zap.NewNop())
	_, err := c.ListRecipients(ctx, domain.ProviderSession{AccessToken: "tok"}, "env-1")
	assert.Error(t, err)
}

func TestParseConnectEvent(t *testing.T) {
	body := []byte(`{
		"event": "recipient-completed",
		"data": {
			"envelopeId": "env-1",
			"envelopeSummary": {
				"status": "sent",
				"recipients": {"signers": [
					{"recipientId": "1", "status": "completed", "signedDateTime": "2026-05-01T10:00:00Z"},
					{"recipientId": "2", "status": "delivered"}
				]}
			}
		}
	}`)

	snap, err := ParseConnectEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "recipient-completed", snap.Event)
	assert.Equal(t, "env-1", snap.EnvelopeID)
	require.Len(t, snap.Recipients, 2)
	assert.True(t, snap.Recipients[0].Completed())
	assert.False(t, snap.Recipients[1].Completed())
}

func TestParseConnectEvent_MissingEnvelope(t *testing.T) {
	_, err := ParseConnectEvent([]byte(`{"event":"envelope-sent","data":{}}`))
	var br *BadRequestError
	assert.ErrorAs(t, err, &br)

	_, err = ParseConnectEvent([]byte(`not json`))
	assert.ErrorAs(t, err, &br)
}
