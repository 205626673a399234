package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"optionsim/internal/errors"
	"optionsim/internal/models"
)

// HTTPProvider serves quotes from a JSON HTTP endpoint of the form
// GET {base}/quote?symbol=S.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPProviderConfig holds configuration for an HTTP provider.
type HTTPProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPProvider creates a new HTTP quote provider.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return p.name
}

// IsAvailable implements Provider with a cheap HEAD probe.
func (p *HTTPProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// quoteResponse mirrors the provider's JSON quote payload. A non-empty Note
// field is a provider-specific rate-limit signal.
type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Timestamp     int64   `json:"timestamp"`
	Note          string  `json:"Note"`
}

// GetQuote implements Provider. HTTP 429 and the "Note" field are surfaced
// as typed rate-limit errors so the gateway can skip to the next provider
// instead of retrying the limited one.
func (p *HTTPProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", p.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, errors.Wrap(err, "build quote request")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Quote{}, errors.Wrapf(err, "provider %s quote %s", p.name, symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.Quote{}, errors.NewRateLimitError(p.name, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("provider %s returned status %d for %s", p.name, resp.StatusCode, symbol)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Quote{}, errors.Wrapf(err, "provider %s decode quote %s", p.name, symbol)
	}
	if body.Note != "" {
		return models.Quote{}, errors.NewRateLimitError(p.name, fmt.Errorf("note: %s", body.Note))
	}

	ts := time.Now()
	if body.Timestamp > 0 {
		ts = time.Unix(body.Timestamp, 0)
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         body.Price,
		Change:        body.Change,
		ChangePercent: body.ChangePercent,
		Volume:        body.Volume,
		Timestamp:     ts,
		Source:        p.name,
	}, nil
}

// chainResponse mirrors the provider's JSON option-chain payload.
type chainResponse struct {
	Symbol    string  `json:"symbol"`
	SpotPrice float64 `json:"spotPrice"`
	Expiry    int64   `json:"expiry"`
	Strikes   []struct {
		Strike float64 `json:"strike"`
		Call   *struct {
			Premium      float64 `json:"premium"`
			OpenInterest int64   `json:"openInterest"`
			Volume       int64   `json:"volume"`
			ImpliedVol   float64 `json:"impliedVol"`
		} `json:"call"`
		Put *struct {
			Premium      float64 `json:"premium"`
			OpenInterest int64   `json:"openInterest"`
			Volume       int64   `json:"volume"`
			ImpliedVol   float64 `json:"impliedVol"`
		} `json:"put"`
	} `json:"strikes"`
	Note string `json:"Note"`
}

// GetOptionChain implements Provider.
func (p *HTTPProvider) GetOptionChain(ctx context.Context, symbol string) (models.OptionChainData, error) {
	endpoint := fmt.Sprintf("%s/chain?symbol=%s", p.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.OptionChainData{}, errors.Wrap(err, "build chain request")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.OptionChainData{}, errors.Wrapf(err, "provider %s chain %s", p.name, symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.OptionChainData{}, errors.NewRateLimitError(p.name, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return models.OptionChainData{}, fmt.Errorf("provider %s returned status %d for %s", p.name, resp.StatusCode, symbol)
	}

	var body chainResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.OptionChainData{}, errors.Wrapf(err, "provider %s decode chain %s", p.name, symbol)
	}
	if body.Note != "" {
		return models.OptionChainData{}, errors.NewRateLimitError(p.name, fmt.Errorf("note: %s", body.Note))
	}

	chain := models.OptionChainData{
		Symbol:    symbol,
		SpotPrice: body.SpotPrice,
		Expiry:    time.Unix(body.Expiry, 0),
		Source:    p.name,
	}
	for _, s := range body.Strikes {
		strike := models.OptionStrike{Strike: s.Strike}
		if s.Call != nil {
			strike.Call = &models.OptionContract{
				Premium:      s.Call.Premium,
				OpenInterest: s.Call.OpenInterest,
				Volume:       s.Call.Volume,
				ImpliedVol:   s.Call.ImpliedVol,
			}
		}
		if s.Put != nil {
			strike.Put = &models.OptionContract{
				Premium:      s.Put.Premium,
				OpenInterest: s.Put.OpenInterest,
				Volume:       s.Put.Volume,
				ImpliedVol:   s.Put.ImpliedVol,
			}
		}
		chain.Strikes = append(chain.Strikes, strike)
	}

	return chain, nil
}

var _ Provider = (*HTTPProvider)(nil)
