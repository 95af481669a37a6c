package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyWithNoSinkConfiguredReturnsError(t *testing.T) {
	s, err := New("", 0, "")
	require.NoError(t, err)

	err = s.Notify(context.Background(), "subject", "body")
	assert.Error(t, err)
}

func TestNotifyPostsToWebhook(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New("", 0, srv.URL)
	require.NoError(t, err)

	err = s.Notify(context.Background(), "Kill switch tripped", "three consecutive losses")
	require.NoError(t, err)
	assert.Equal(t, "Kill switch tripped", received.Subject)
	assert.Equal(t, "three consecutive losses", received.Body)
}

func TestNotifyWebhookFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := New("", 0, srv.URL)
	require.NoError(t, err)

	err = s.Notify(context.Background(), "subject", "body")
	assert.NoError(t, err, "a non-2xx from the sink must not bubble up to the caller")
}
