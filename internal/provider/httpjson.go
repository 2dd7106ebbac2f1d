package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// GetJSON performs one authenticated GET against a provider's pricing API and
// decodes the JSON body into out. Status codes classify per the adapter
// failure taxonomy: 401/403 are terminal auth failures, 429 and 5xx are
// transient, and a body that fails to decode is a schema failure. Response
// bodies never appear in returned errors.
func GetJSON(ctx context.Context, client *http.Client, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return pricing.NewError(pricing.CodeAuthFailed, "pricing API rejected credentials (HTTP %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("pricing API returned HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return pricing.NewError(pricing.CodeParseError, "pricing API returned unexpected HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pricing.WrapError(pricing.CodeParseError, err, "decoding pricing response")
	}
	return nil
}
