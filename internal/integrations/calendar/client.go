// Package calendar reads events from Google Calendar with a service
// account. It is read-only: the calendar is a source of tasks, never a sink.
package calendar

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	tokenExpiry     = 55 * time.Minute // Refresh before 1 hour expiry
	readOnlyScope   = "https://www.googleapis.com/auth/calendar.readonly"

	// CriticalProperty marks an event critical when set to "true" in its
	// private extended properties.
	CriticalProperty = "chapelotas_critical"
)

// ErrPermission is returned when the calendar refuses access (401/403).
var ErrPermission = errors.New("calendar access denied")

// Client is a Google Calendar API client using service account authentication
type Client struct {
	httpClient  *http.Client
	calendarID  string
	baseURL     string
	tokenURL    string
	credentials *serviceAccountCredentials

	// Token caching
	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

// serviceAccountCredentials holds the service account JSON key
type serviceAccountCredentials struct {
	Type        string `json:"type"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// Config holds calendar client configuration
type Config struct {
	CredentialsFile string // Path to service account JSON file
	CalendarID      string // Calendar ID to access (usually an email address)

	BaseURL  string // API root, for tests
	TokenURL string // overrides the key's token_uri
}

// NewClient creates a new Google Calendar client from environment variables
func NewClient() (*Client, error) {
	credsFile := os.Getenv("GOOGLE_CALENDAR_CREDENTIALS_FILE")
	if credsFile == "" {
		return nil, fmt.Errorf("GOOGLE_CALENDAR_CREDENTIALS_FILE not set")
	}

	calendarID := os.Getenv("GOOGLE_CALENDAR_ID")
	if calendarID == "" {
		return nil, fmt.Errorf("GOOGLE_CALENDAR_ID not set")
	}

	return NewClientWithConfig(Config{
		CredentialsFile: credsFile,
		CalendarID:      calendarID,
	})
}

// NewClientWithConfig creates a new client with explicit configuration
func NewClientWithConfig(cfg Config) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds serviceAccountCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Type != "service_account" {
		return nil, fmt.Errorf("credentials file must be a service account key (got %s)", creds.Type)
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		calendarID:  cfg.CalendarID,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:    cfg.TokenURL,
		credentials: &creds,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.tokenURL == "" {
		c.tokenURL = creds.TokenURI
	}
	if c.tokenURL == "" {
		c.tokenURL = defaultTokenURL
	}
	return c, nil
}

// CalendarID returns the configured calendar ID
func (c *Client) CalendarID() string {
	return c.calendarID
}

// getAccessToken returns a valid access token, refreshing if needed
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		token := c.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	now := time.Now()
	jwt, err := c.signJWT(map[string]any{
		"iss":   c.credentials.ClientEmail,
		"scope": readOnlyScope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", jwt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("token request (%d): %w", resp.StatusCode, ErrPermission)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = now.Add(tokenExpiry)
	return c.accessToken, nil
}

// signJWT creates a signed RS256 JWT assertion
func (c *Client) signJWT(claims map[string]any) (string, error) {
	block, _ := pem.Decode([]byte(c.credentials.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("failed to parse PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not RSA")
	}

	headerJSON, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	hash := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(nil, rsaKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// get makes an authenticated GET against the Calendar API
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("calendar API (%d): %w", resp.StatusCode, ErrPermission)
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("calendar API error (%d): %s", errResp.Error.Code, errResp.Error.Message)
		}
		return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Event is one calendar entry, reduced to what the reminder core reads.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Status      string    `json:"status"` // confirmed, tentative, cancelled
	Recurring   bool      `json:"recurring"`
	Critical    bool      `json:"critical"`
}

// Cancelled reports whether the organizer cancelled the event
func (e Event) Cancelled() bool {
	return e.Status == "cancelled"
}

// googleEvent represents the Google Calendar API event format
type googleEvent struct {
	ID                 string          `json:"id"`
	Summary            string          `json:"summary"`
	Description        string          `json:"description,omitempty"`
	Location           string          `json:"location,omitempty"`
	Status             string          `json:"status"`
	RecurringEventID   string          `json:"recurringEventId,omitempty"`
	Start              *googleDateTime `json:"start,omitempty"`
	End                *googleDateTime `json:"end,omitempty"`
	ExtendedProperties *extendedProps  `json:"extendedProperties,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type extendedProps struct {
	Private map[string]string `json:"private,omitempty"`
}

type eventsResponse struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// ListEvents returns the single (expanded) events starting in [from, to),
// following pagination. All-day dates are placed in loc.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time, loc *time.Location) ([]Event, error) {
	if loc == nil {
		loc = time.Local
	}
	var (
		events    []Event
		pageToken string
	)
	for {
		q := url.Values{}
		q.Set("timeMin", from.Format(time.RFC3339))
		q.Set("timeMax", to.Format(time.RFC3339))
		q.Set("maxResults", "250")
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		data, err := c.get(ctx, fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(c.calendarID), q.Encode()))
		if err != nil {
			return nil, err
		}
		var resp eventsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse events response: %w", err)
		}
		for i := range resp.Items {
			event, err := convertEvent(&resp.Items[i], loc)
			if err != nil {
				continue // Skip malformed events
			}
			events = append(events, event)
		}
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

// convertEvent converts a Google Calendar event to our Event type
func convertEvent(item *googleEvent, loc *time.Location) (Event, error) {
	event := Event{
		ID:          item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		Recurring:   item.RecurringEventID != "",
	}

	if item.Start == nil {
		return Event{}, fmt.Errorf("event %s has no start", item.ID)
	}
	start, allDay, err := parseDateTime(item.Start, loc)
	if err != nil {
		return Event{}, fmt.Errorf("parse start: %w", err)
	}
	event.Start, event.AllDay = start, allDay

	if item.End != nil {
		if event.End, _, err = parseDateTime(item.End, loc); err != nil {
			return Event{}, fmt.Errorf("parse end: %w", err)
		}
	}

	if item.ExtendedProperties != nil && item.ExtendedProperties.Private[CriticalProperty] == "true" {
		event.Critical = true
	}
	if strings.Contains(item.Summary, "🚨") || strings.Contains(strings.ToLower(item.Summary), "[critical]") {
		event.Critical = true
	}
	return event, nil
}

func parseDateTime(dt *googleDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, errors.New("empty date")
}
