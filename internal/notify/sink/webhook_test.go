package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"component-deployer/internal/notify"
)

func TestWebhookSinkPublish(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, map[string]string{"Authorization": "Bearer abc"}, "application/json")
	require.NoError(t, s.Publish(context.Background(), "deployer.runs", "nightly", []byte(`{"ok":true}`)))

	assert.Equal(t, `{"ok":true}`, string(gotBody))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "deployer.runs", gotHeader.Get("X-Deployer-Topic"))
	assert.Equal(t, "nightly", gotHeader.Get("X-Deployer-Key"))
	assert.Equal(t, "Bearer abc", gotHeader.Get("Authorization"))
	assert.NotEmpty(t, gotHeader.Get("Idempotency-Key"))
}

func TestWebhookSinkIdempotencyKeyFollowsMessageID(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, nil, "application/json")
	ctx := notify.WithMessageID(context.Background(), "run-1")
	require.NoError(t, s.Publish(ctx, "deployer.runs", "nightly", []byte("{}")))
	require.NoError(t, s.Publish(ctx, "deployer.runs", "nightly", []byte("{}")))

	assert.Equal(t, []string{"wh_run-1", "wh_run-1"}, keys)
}

func TestWebhookSinkNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSink(srv.URL, nil, "application/json")
	err := s.Publish(context.Background(), "t", "k", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "nope")
}

func TestResolveHeaders(t *testing.T) {
	t.Setenv("DEPLOYER_HOOK_TOKEN", "s3cret")

	got := ResolveHeaders(map[string]string{
		"Authorization": "Bearer {{env.DEPLOYER_HOOK_TOKEN}}",
		"X-Plain":       "value",
		"X-Broken":      "{{env.UNTERMINATED",
	})
	assert.Equal(t, "Bearer s3cret", got["Authorization"])
	assert.Equal(t, "value", got["X-Plain"])
	assert.Equal(t, "{{env.UNTERMINATED", got["X-Broken"])
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "deployer_runs", streamName("deployer.runs"))
	assert.Equal(t, "a____", streamName("a.*.>"))
}

func TestKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(nil)
	assert.Error(t, err)
}
