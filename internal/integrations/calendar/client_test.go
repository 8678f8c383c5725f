package calendar

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	creds, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": "bot@example.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, creds, 0o600))
	return path
}

func newTestClient(t *testing.T, events http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.Len(t, strings.Split(r.Form.Get("assertion"), "."), 3)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/calendars/", events)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClientWithConfig(Config{
		CredentialsFile: writeCredentials(t),
		CalendarID:      "me@example.com",
		BaseURL:         srv.URL,
		TokenURL:        srv.URL + "/token",
	})
	require.NoError(t, err)
	return c
}

func TestListEventsFollowsPages(t *testing.T) {
	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		pages = append(pages, r.URL.Query().Get("pageToken"))

		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{"nextPageToken":"p2","items":[
				{"id":"a","summary":"Standup","status":"confirmed",
				 "start":{"dateTime":"2026-03-10T09:00:00Z"},"end":{"dateTime":"2026-03-10T09:15:00Z"}},
				{"id":"bad","summary":"No start","status":"confirmed"}
			]}`))
			return
		}
		w.Write([]byte(`{"items":[
			{"id":"b","summary":"Holiday","status":"confirmed","recurringEventId":"r1",
			 "start":{"date":"2026-03-11"},"end":{"date":"2026-03-12"}},
			{"id":"c","summary":"Launch","status":"confirmed",
			 "extendedProperties":{"private":{"chapelotas_critical":"true"}},
			 "start":{"dateTime":"2026-03-12T15:00:00Z"}}
		]}`))
	})

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(t.Context(), from, from.AddDate(0, 0, 7), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2"}, pages)
	require.Len(t, events, 3)

	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, 15*time.Minute, events[0].End.Sub(events[0].Start))

	assert.True(t, events[1].AllDay)
	assert.True(t, events[1].Recurring)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), events[1].Start)

	assert.True(t, events[2].Critical)
	assert.True(t, events[2].End.IsZero())
}

func TestListEventsPermissionDenied(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
	})
	_, err := c.ListEvents(t.Context(), time.Now(), time.Now().Add(time.Hour), nil)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestCriticalFromSummary(t *testing.T) {
	for _, summary := range []string{"🚨 Flight", "[CRITICAL] Surgery"} {
		e, err := convertEvent(&googleEvent{ID: "x", Summary: summary, Start: &googleDateTime{DateTime: "2026-03-10T09:00:00Z"}}, time.UTC)
		require.NoError(t, err)
		assert.True(t, e.Critical, summary)
	}
}

func TestRejectsNonServiceAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0o600))
	_, err := NewClientWithConfig(Config{CredentialsFile: path})
	assert.Error(t, err)
}
