package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPAnonymizerDetector queries an external IP intelligence service for
// VPN/proxy/datacenter classification. The oracle's circuit breaker and
// timeout wrap every call, so this client stays deliberately thin.
type HTTPAnonymizerDetector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnonymizerDetector creates a detector against the given base URL.
func NewHTTPAnonymizerDetector(baseURL string) *HTTPAnonymizerDetector {
	return &HTTPAnonymizerDetector{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// IsAnonymizedIP implements AnonymizerDetector.
func (d *HTTPAnonymizerDetector) IsAnonymizedIP(ctx context.Context, ip string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/check?ip=%s", d.baseURL, url.QueryEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build anonymizer request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("anonymizer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("anonymizer returned status %d", resp.StatusCode)
	}

	var body struct {
		Anonymized bool `json:"anonymized"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode anonymizer response: %w", err)
	}
	return body.Anonymized, nil
}
