package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mwiater/chorus/internal/logging"
)

const (
	// DirectionOut tags payloads sent to a backend.
	DirectionOut = "CHORUS->LLM"
	// DirectionIn tags payloads received from a backend.
	DirectionIn = "LLM->CHORUS"
)

// NewHTTPClient returns the client adapters share. Deadlines come from the request context,
// so the client itself carries no timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{ForceAttemptHTTP2: false, Proxy: http.ProxyFromEnvironment},
	}
}

// Exchange is a completed HTTP round trip.
type Exchange struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (e Exchange) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// PostJSON marshals payload, posts it to endpoint, and reads the whole response body.
// Transport failures are wrapped with the matching taxonomy sentinel.
func PostJSON(ctx context.Context, client *http.Client, desc Descriptor, endpoint string, headers map[string]string, payload any) (Exchange, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Exchange{}, fmt.Errorf("%w: encode request: %v", ErrProtocol, err)
	}
	logging.LogRequest(DirectionOut, desc.ID, desc.WireModel(), "", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Exchange{}, Errorf(ErrConfiguration, "invalid endpoint %q: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Exchange{}, transportError(ctx, desc, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Exchange{}, transportError(ctx, desc, err)
	}
	logging.LogRequest(DirectionIn, desc.ID, desc.WireModel(), "", respBody)

	return Exchange{StatusCode: resp.StatusCode, Status: resp.Status, Body: respBody}, nil
}

func transportError(ctx context.Context, desc Descriptor, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		if desc.Timeout > 0 {
			return Errorf(ErrTimeout, "request timed out after %s", desc.Timeout)
		}
		return Errorf(ErrTimeout, "request timed out")
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("request cancelled: %w", context.Canceled)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}
