package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amirphl/dexbook/internal/msgs"
)

// APIClient performs the JSON API round-trips that are not delivered over
// the feed: the max order size estimates. It satisfies estimate.Requester.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for the server's JSON API.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type maxSellRequest struct {
	Host  string `json:"host"`
	Base  uint32 `json:"base"`
	Quote uint32 `json:"quote"`
}

type maxBuyRequest struct {
	Host  string `json:"host"`
	Base  uint32 `json:"base"`
	Quote uint32 `json:"quote"`
	Rate  uint64 `json:"rate"`
}

type maxSellResponse struct {
	OK      bool                   `json:"ok"`
	Msg     string                 `json:"msg"`
	MaxSell *msgs.MaxOrderEstimate `json:"maxSell"`
}

type maxBuyResponse struct {
	OK     bool                   `json:"ok"`
	Msg    string                 `json:"msg"`
	MaxBuy *msgs.MaxOrderEstimate `json:"maxBuy"`
}

// MaxSell fetches the largest possible sell estimate for a market.
func (a *APIClient) MaxSell(ctx context.Context, host string, base, quote uint32) (*msgs.MaxOrderEstimate, error) {
	var resp maxSellResponse
	err := a.postJSON(ctx, "/api/maxsell", maxSellRequest{Host: host, Base: base, Quote: quote}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("maxsell error: %s", resp.Msg)
	}
	return resp.MaxSell, nil
}

// MaxBuy fetches the largest possible buy estimate at a rate for a market.
func (a *APIClient) MaxBuy(ctx context.Context, host string, base, quote uint32, rate uint64) (*msgs.MaxOrderEstimate, error) {
	var resp maxBuyResponse
	err := a.postJSON(ctx, "/api/maxbuy", maxBuyRequest{Host: host, Base: base, Quote: quote, Rate: rate}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("maxbuy error: %s", resp.Msg)
	}
	return resp.MaxBuy, nil
}

func (a *APIClient) postJSON(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
