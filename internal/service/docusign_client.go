package service

import (
	"context"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// RecipientLister 查询信封签署人状态
type RecipientLister interface {
	ListRecipients(ctx context.Context, session domain.ProviderSession, envelopeID string) ([]domain.RecipientStatus, error)
}

// docusignSigner recipients 接口中的单个签署人
type docusignSigner struct {
	RecipientID    string `json:"recipientId"`
	Status         string `json:"status"`
	SignedDateTime string `json:"signedDateTime"`
}

// docusignRecipientsResponse GET .../envelopes/{envelopeId}/recipients 响应
type docusignRecipientsResponse struct {
	Signers []docusignSigner `json:"signers"`
}

// DocusignClient DocuSign eSignature REST 客户端
type DocusignClient struct {
	httpClient *resty.Client
	accountID  string
	logger     *zap.Logger
}

// NewDocusignClient 创建 DocuSign 客户端
// 不启用 resty 重试：轮询循环本身就是重试机制
func NewDocusignClient(baseURL, accountID string, logger *zap.Logger) *DocusignClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")

	return &DocusignClient{
		httpClient: client,
		accountID:  accountID,
		logger:     logger,
	}
}

var _ RecipientLister = (*DocusignClient)(nil)

// ListRecipients 获取信封签署人状态列表；非 2xx 返回错误
func (c *DocusignClient) ListRecipients(ctx context.Context, session domain.ProviderSession, envelopeID string) ([]domain.RecipientStatus, error) {
	var response docusignRecipientsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(session.AccessToken).
		SetPathParams(map[string]string{
			"accountId":  c.accountID,
			"envelopeId": envelopeID,
		}).
		SetResult(&response).
		Get("/restapi/v2.1/accounts/{accountId}/envelopes/{envelopeId}/recipients")
	if err != nil {
		return nil, fmt.Errorf("failed to call DocuSign recipients API: %w", err)
	}
	if resp.IsError() {
		c.logger.Debug("DocuSign recipients API returned error",
			zap.String("envelope_id", envelopeID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("DocuSign recipients API error: status %d", resp.StatusCode())
	}

	out := make([]domain.RecipientStatus, 0, len(response.Signers))
	for _, s := range response.Signers {
		out = append(out, domain.RecipientStatus{
			RecipientID:    s.RecipientID,
			Status:         s.Status,
			SignedDateTime: parseProviderTime(s.SignedDateTime),
		})
	}
	return out, nil
}

func parseProviderTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
