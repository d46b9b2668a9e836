package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PaymentOption is one settlement option a payee advertises during the
// x402 handshake: pay this asset on this chain to this address.
type PaymentOption struct {
	Chain  string `json:"chain"`
	Asset  string `json:"asset"`
	Amount string `json:"amount,omitempty"`
	PayTo  string `json:"payTo"`
}

type x402Response struct {
	Accepts []PaymentOption `json:"accepts"`
}

// X402Client performs the HTTP-native payment discovery handshake: a GET
// against the payee's resource URL is expected to answer 402 Payment
// Required with a JSON body listing accepted payment options.
type X402Client struct {
	httpClient *http.Client
}

func NewX402Client(client *http.Client) *X402Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &X402Client{httpClient: client}
}

// Discover fetches the payee's accepted payment options.
func (c *X402Client) Discover(ctx context.Context, resourceURL string) ([]PaymentOption, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	// 402 is the expected handshake response; a plain 200 with an accepts
	// body is tolerated for payees that front the handshake with a
	// directory document.
	if resp.StatusCode != http.StatusPaymentRequired && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("discovery returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed x402Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}
	if len(parsed.Accepts) == 0 {
		return nil, fmt.Errorf("payee at %s advertises no payment options", resourceURL)
	}
	return parsed.Accepts, nil
}

// DiscoverOption returns the payee's option matching the given chain and
// asset, or an error listing what the payee does accept.
func (c *X402Client) DiscoverOption(ctx context.Context, resourceURL, chain, asset string) (*PaymentOption, error) {
	options, err := c.Discover(ctx, resourceURL)
	if err != nil {
		return nil, err
	}
	for i := range options {
		if options[i].Chain == chain && options[i].Asset == asset {
			if options[i].PayTo == "" {
				return nil, fmt.Errorf("payee option for %s/%s has no payTo address", chain, asset)
			}
			return &options[i], nil
		}
	}
	accepted := make([]string, 0, len(options))
	for _, opt := range options {
		accepted = append(accepted, opt.Chain+"/"+opt.Asset)
	}
	return nil, fmt.Errorf("payee does not accept %s/%s (accepts %v)", chain, asset, accepted)
}
