package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	jsonwriter "github.com/yokthanwa1993/neezs-app-sub000/internal/json"
)

// HTTPAuthAPI talks to the auth service over HTTP. A cookie jar carries
// the flow cookies between the authorize call and the callback
// exchange, the way a browser would.
type HTTPAuthAPI struct {
	BaseURL string
	Client  *http.Client
}

var _ AuthAPI = (*HTTPAuthAPI)(nil)

// NewHTTPAuthAPI creates an API client with its own cookie jar.
func NewHTTPAuthAPI(baseURL string) (*HTTPAuthAPI, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &HTTPAuthAPI{
		BaseURL: baseURL,
		Client:  &http.Client{Jar: jar},
	}, nil
}

// APIError carries the server's error payload and status code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (a *HTTPAuthAPI) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp jsonwriter.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error,
			Message:    errResp.Message,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// Authorize implements AuthAPI
func (a *HTTPAuthAPI) Authorize(ctx context.Context, role identity.Role, redirectPath string) (string, error) {
	var out struct {
		AuthorizeURL string `json:"authorizeUrl"`
	}
	err := a.post(ctx, "/auth/authorize", map[string]string{
		"role":         string(role),
		"redirectPath": redirectPath,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.AuthorizeURL, nil
}

// ExchangeCallback implements AuthAPI
func (a *HTTPAuthAPI) ExchangeCallback(ctx context.Context, role identity.Role, code, state, redirectURI string) (*ExchangeResult, error) {
	var out ExchangeResult
	err := a.post(ctx, "/auth/"+string(role)+"-callback", map[string]string{
		"code":        code,
		"state":       state,
		"redirectUri": redirectURI,
		"role":        string(role),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeBridgeToken implements AuthAPI
func (a *HTTPAuthAPI) ExchangeBridgeToken(ctx context.Context, role identity.Role, accessToken string) (*ExchangeResult, error) {
	var out ExchangeResult
	err := a.post(ctx, "/auth/"+string(role)+"-bridge-token", map[string]string{
		"accessToken": accessToken,
		"role":        string(role),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
