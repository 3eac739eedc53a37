package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HTTPTransport delivers delegated tasks over HTTP. The request is
// authenticated with an HS256 token identifying the delegating agent, and
// the task UID travels as the idempotency key.
type HTTPTransport struct {
	// JWTSecret signs the bearer token presented to the performing agent.
	JWTSecret string
	// Client is the underlying HTTP client. Defaults to a 30s-timeout client.
	Client *http.Client
}

// NewHTTPTransport creates a transport with sane defaults.
func NewHTTPTransport(jwtSecret string) *HTTPTransport {
	return &HTTPTransport{
		JWTSecret: jwtSecret,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver posts the request to the performing agent's endpoint.
func (t *HTTPTransport) Deliver(ctx context.Context, endpoint string, req *DeliveryRequest) (*DeliveryResponse, error) {
	if endpoint == "" {
		return nil, &TransportError{Agent: req.ToAgent, Err: fmt.Errorf("no endpoint configured")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery request: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/a2a/tasks"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TaskUID)

	token, err := t.mintToken(req.FromAgent)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		// Preserve context errors so deadline handling upstream works.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Agent: req.ToAgent, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Agent: req.ToAgent, Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &TransportError{Agent: req.ToAgent, Err: fmt.Errorf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data)))}
	}

	var resp DeliveryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &TransportError{Agent: req.ToAgent, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}

// mintToken signs a short-lived bearer token with the delegating agent as
// the subject.
func (t *HTTPTransport) mintToken(fromAgent string) (string, error) {
	if strings.TrimSpace(t.JWTSecret) == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   fromAgent,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
