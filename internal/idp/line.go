package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// LINE Login v2.1 endpoints
const (
	lineAuthURL    = "https://access.line.me/oauth2/v2.1/authorize"
	lineTokenURL   = "https://api.line.me/oauth2/v2.1/token"
	lineVerifyURL  = "https://api.line.me/oauth2/v2.1/verify"
	lineProfileURL = "https://api.line.me/v2/profile"
	linePushURL    = "https://api.line.me/v2/bot/message/push"
)

// LINEProvider implements the Provider interface for LINE Login.
// The same channel serves both redirect and LIFF flows; the Messaging
// API token is separate because push messages go through the bot channel.
type LINEProvider struct {
	config         oauth2.Config
	httpClient     *http.Client
	verifyURL      string
	profileURL     string
	pushURL        string
	messagingToken string
}

// LINEOption configures a LINEProvider
type LINEOption func(*LINEProvider)

// WithHTTPClient overrides the HTTP client (for testing)
func WithHTTPClient(c *http.Client) LINEOption {
	return func(p *LINEProvider) { p.httpClient = c }
}

// WithEndpoints overrides provider URLs (for testing against httptest)
func WithEndpoints(authURL, tokenURL, verifyURL, profileURL, pushURL string) LINEOption {
	return func(p *LINEProvider) {
		p.config.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		p.verifyURL = verifyURL
		p.profileURL = profileURL
		p.pushURL = pushURL
	}
}

// NewLINEProvider creates a LINE Login provider for one channel.
func NewLINEProvider(channelID, channelSecret, scopes, messagingToken string, opts ...LINEOption) *LINEProvider {
	p := &LINEProvider{
		config: oauth2.Config{
			ClientID:     channelID,
			ClientSecret: channelSecret,
			Scopes:       strings.Fields(scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  lineAuthURL,
				TokenURL: lineTokenURL,
			},
		},
		httpClient:     http.DefaultClient,
		verifyURL:      lineVerifyURL,
		profileURL:     lineProfileURL,
		pushURL:        linePushURL,
		messagingToken: messagingToken,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *LINEProvider) Name() string { return "line" }

// AuthCodeURL builds the authorize URL. The redirect URI varies per
// role so it is a parameter instead of baked into the config.
func (p *LINEProvider) AuthCodeURL(state, challenge, redirectURI string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades the authorization code for tokens.
func (p *LINEProvider) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	exchangeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	}
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}

	token, err := p.config.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &TokenExchangeError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
				Err:        err,
			}
		}
		return nil, &TokenExchangeError{Err: err}
	}
	return token, nil
}

// lineVerifyResponse is the payload of GET /oauth2/v2.1/verify
type lineVerifyResponse struct {
	ClientID  string `json:"client_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// VerifyAccessToken checks token liveness and channel binding. A token
// minted for another channel authenticates nobody here.
func (p *LINEProvider) VerifyAccessToken(ctx context.Context, accessToken string) error {
	u := p.verifyURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building verify request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &TokenExchangeError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var verify lineVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verify); err != nil {
		return &TokenExchangeError{Err: fmt.Errorf("decoding verify response: %w", err)}
	}
	if verify.ClientID != p.config.ClientID {
		return &TokenExchangeError{Err: fmt.Errorf("access token issued for channel %q", verify.ClientID)}
	}
	if verify.ExpiresIn <= 0 {
		return &TokenExchangeError{Err: errors.New("access token expired")}
	}
	return nil
}

// Profile fetches the LINE profile for an access token.
func (p *LINEProvider) Profile(ctx context.Context, accessToken string) (*identity.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProfileFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode}
	}

	var profile identity.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, &ProfileFetchError{Err: fmt.Errorf("decoding profile: %w", err)}
	}
	return &profile, nil
}

// PushMessage sends a text message through the Messaging API.
func (p *LINEProvider) PushMessage(ctx context.Context, providerUserID, text string) error {
	if p.messagingToken == "" {
		return errors.New("messaging channel token not configured")
	}

	payload := map[string]any{
		"to": providerUserID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.messagingToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("push message: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
