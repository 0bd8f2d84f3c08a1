package clients

import (
	"context"
	"net/http"
	"strconv"

	"solarcharge/backend/services/charging-service/internal/models"
	"solarcharge/backend/services/charging-service/internal/service"
)

// BillingClient talks to billing-service for extension pricing and the
// payment leg of quota extensions.
type BillingClient struct {
	base *BaseClient
}

// NewBillingClient returns client instance.
func NewBillingClient(baseURL string, httpClient HTTPDoer) *BillingClient {
	return &BillingClient{base: NewBaseClient(baseURL, httpClient)}
}

type purchaseRequest struct {
	Type      string  `json:"type"`
	AmountMah float64 `json:"amount_mah"`
}

// GetQuotaPricing fetches the current extension price sheet.
func (c *BillingClient) GetQuotaPricing(ctx context.Context) (*models.QuotaPricing, error) {
	var pricing models.QuotaPricing
	if err := c.base.DoJSON(ctx, http.MethodGet, "/billing/quota-pricing", nil, nil, &pricing); err != nil {
		return nil, err
	}
	return &pricing, nil
}

// PurchaseExtension charges the user for an extension and returns the
// billing receipt.
func (c *BillingClient) PurchaseExtension(ctx context.Context, userID int64, extType string, amountMah float64) (*service.PurchaseReceipt, error) {
	headers := map[string]string{
		"X-User-ID": strconv.FormatInt(userID, 10),
	}
	req := purchaseRequest{Type: extType, AmountMah: amountMah}
	var receipt service.PurchaseReceipt
	if err := c.base.DoJSON(ctx, http.MethodPost, "/billing/extensions", headers, req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
