package domain

import "time"

// ProviderSession DocuSign 访问会话，显式传递而不是进程级全局变量
type ProviderSession struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token is unusable at now, allowing skew for in-flight requests.
func (s *ProviderSession) Expired(now time.Time, skew time.Duration) bool {
	return s == nil || s.AccessToken == "" || !now.Add(skew).Before(s.ExpiresAt)
}

// ProviderConnection 持久化的 OAuth 连接（access/refresh token）
type ProviderConnection struct {
	ID           string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// RecipientStatus is one signer entry of an envelope's recipient list.
type RecipientStatus struct {
	RecipientID    string
	Status         string
	SignedDateTime *time.Time
}

// Completed reports whether the recipient finished signing.
func (r RecipientStatus) Completed() bool {
	return r.Status == "completed" || r.Status == "signed"
}

// FindRecipient returns the entry with the given id.
func FindRecipient(list []RecipientStatus, recipientID string) (RecipientStatus, bool) {
	for _, r := range list {
		if r.RecipientID == recipientID {
			return r, true
		}
	}
	return RecipientStatus{}, false
}
