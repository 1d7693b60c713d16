package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	googleTokenInfoURL     = "https://oauth2.googleapis.com/tokeninfo"
	recaptchaSiteVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

	// DefaultBotScoreThreshold is the minimum challenge score accepted
	// before the caller is treated as a bot.
	DefaultBotScoreThreshold = 0.5
)

// GoogleVerifier validates Google-issued ID tokens against the tokeninfo
// endpoint. ClientID, when set, must match the token audience.
type GoogleVerifier struct {
	ClientID string
	client   *http.Client
}

// NewGoogleVerifier creates a verifier for tokens issued to the client id.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		ClientID: clientID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type googleTokenInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Audience      string `json:"aud"`
}

// Verify implements IdentityVerifier.
func (g *GoogleVerifier) Verify(ctx context.Context, providerToken string) (Identity, error) {
	endpoint := fmt.Sprintf("%s?id_token=%s", googleTokenInfoURL, url.QueryEscape(providerToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to reach token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Identity{}, fmt.Errorf("token rejected: status %d, response: %s", resp.StatusCode, string(body))
	}

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("failed to decode token info: %w", err)
	}

	if g.ClientID != "" && info.Audience != g.ClientID {
		return Identity{}, fmt.Errorf("token audience mismatch")
	}
	if info.EmailVerified != "true" {
		return Identity{}, fmt.Errorf("email not verified")
	}

	return Identity{Subject: info.Sub, Email: info.Email}, nil
}

// RecaptchaChecker scores challenge responses through the siteverify
// endpoint. Responses below Threshold fail the check.
type RecaptchaChecker struct {
	Secret    string
	Threshold float64
	client    *http.Client
}

// NewRecaptchaChecker creates a checker with the default score threshold.
func NewRecaptchaChecker(secret string) *RecaptchaChecker {
	return &RecaptchaChecker{
		Secret:    secret,
		Threshold: DefaultBotScoreThreshold,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type recaptchaResponse struct {
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
}

// Check implements BotChecker.
func (c *RecaptchaChecker) Check(ctx context.Context, token string) (bool, error) {
	form := url.Values{}
	form.Set("secret", c.Secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recaptchaSiteVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to reach siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var result recaptchaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode siteverify response: %w", err)
	}

	return result.Success && result.Score >= c.Threshold, nil
}
