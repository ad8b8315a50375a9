package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExchanger posts the credential to a platform identity endpoint and
// reads back {"user_id": "..."}.
type HTTPExchanger struct {
	url    string
	client *http.Client
}

func NewHTTPExchanger(url string, timeout time.Duration) *HTTPExchanger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPExchanger{url: url, client: &http.Client{Timeout: timeout}}
}

type exchangeRequest struct {
	Credential string `json:"credential"`
}

type exchangeResponse struct {
	UserID string `json:"user_id"`
}

func (h *HTTPExchanger) Exchange(ctx context.Context, credential string) (string, error) {
	body, err := json.Marshal(exchangeRequest{Credential: credential})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
	}

	var out exchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}
	return out.UserID, nil
}
