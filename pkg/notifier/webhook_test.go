package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-io/conduct/pkg/models"
)

func TestSlackSenderPostsTextPayload(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSlackSender()
	require.NoError(t, sender.Send(context.Background(), Message{
		Channel:   models.ChannelSlack,
		Recipient: server.URL,
		Body:      "backup finished",
	}))

	assert.Equal(t, map[string]string{"text": "backup finished"}, got)
}

func TestDiscordSenderUsesContentField(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewDiscordSender()
	require.NoError(t, sender.Send(context.Background(), Message{
		Channel:   models.ChannelDiscord,
		Recipient: server.URL,
		Body:      "deploy done",
	}))

	assert.Equal(t, map[string]string{"content": "deploy done"}, got)
}

func TestWebhookSenderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewSlackSender().Send(context.Background(), Message{
		Channel:   models.ChannelSlack,
		Recipient: server.URL,
		Body:      "dropped",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 429")
}

func TestWebhookSenderRequiresRecipient(t *testing.T) {
	err := NewSlackSender().Send(context.Background(), Message{Channel: models.ChannelSlack})
	assert.Error(t, err)
}

func TestRegistrySendUnknownChannel(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewSlackSender())

	err := registry.Send(context.Background(), Message{Channel: models.ChannelEmail})
	assert.Error(t, err)
}
