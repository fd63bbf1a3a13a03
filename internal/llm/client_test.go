package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(d time.Duration) {
	r.waits = append(r.waits, d)
}

func setGenerousQuota(w http.ResponseWriter) {
	w.Header().Set(HeaderRemainingRequests, "100")
	w.Header().Set(HeaderRemainingTokens, "100000")
	w.Header().Set(HeaderResetRequests, "1s")
	w.Header().Set(HeaderResetTokens, "1s")
}

func writeCompletion(t *testing.T, w http.ResponseWriter, content string, tokens int) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"completion_tokens": tokens},
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func newTestClient(t *testing.T, srv *httptest.Server, sleeper *recordingSleeper, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-api-key"
	}
	client, err := NewClient(cfg, srv.Client(), WithSleeper(sleeper.sleep))
	require.NoError(t, err)
	return client
}

func TestClientComplete_SendsExpectedPayloadAndParsesOutput(t *testing.T) {
	var gotAuth string
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotBody))

		setGenerousQuota(w)
		writeCompletion(t, w, "  SELECT 1;\n", 4)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{Model: "llama-test"})

	out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(),
		SystemMessage("You are a SQL expert."),
		UserMessage("Convert to SQL: one"),
	))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", out)
	assert.Empty(t, sleeper.waits)

	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "llama-test", gotBody["model"])
	assert.EqualValues(t, 0, gotBody["temperature"])
	assert.EqualValues(t, 1000, gotBody["max_tokens"])
	assert.EqualValues(t, 1, gotBody["n"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You are a SQL expert."}, messages[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "Convert to SQL: one"}, messages[1])
}

func TestClientComplete_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(HeaderRetryAfter, "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached"}}`))
			return
		}
		setGenerousQuota(w)
		writeCompletion(t, w, "SELECT 2;", 3)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2;", out)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.waits)
	assert.Equal(t, 1, client.Usage().Calls())
}

func TestClientComplete_RateLimitWithoutRetryAfterWaitsDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.waits)
}

func TestClientComplete_WaitsForTokenResetWhenRemainingTokensLow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setGenerousQuota(w)
		w.Header().Set(HeaderRemainingTokens, "500")
		w.Header().Set(HeaderResetTokens, "7.5s")
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7500 * time.Millisecond}, sleeper.waits)
}

func TestClientComplete_AppliesTokenAndRequestWaitsSequentially(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRemainingTokens, "10")
		w.Header().Set(HeaderRemainingRequests, "1")
		w.Header().Set(HeaderResetTokens, "2s")
		w.Header().Set(HeaderResetRequests, "1m30s")
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 90 * time.Second}, sleeper.waits)
}

func TestClientComplete_MissingQuotaHeadersThrottleConservatively(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, sleeper.waits)
}

func TestClientComplete_ReturnsSentinelWhenChoicesMissing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, ErrorSentinel, out)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, sleeper.waits)
	assert.Equal(t, 0, client.Usage().Calls())
}

func TestClientComplete_ReturnsSentinelWhenContentMissing(t *testing.T) {
	bodies := []string{
		`{"choices":[{}],"usage":{"completion_tokens":3}}`,
		`{"choices":[{"message":null}]}`,
		`{"choices":[{"message":{}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":null}}]}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setGenerousQuota(w)
			_, _ = w.Write([]byte(body))
		}))

		sleeper := &recordingSleeper{}
		client := newTestClient(t, srv, sleeper, Config{})

		out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
		srv.Close()
		require.NoError(t, err, "body %s", body)
		assert.Equal(t, ErrorSentinel, out, "body %s", body)
		assert.Equal(t, 0, client.Usage().Calls(), "body %s", body)
		assert.Empty(t, sleeper.waits, "body %s", body)
	}
}

func TestClientComplete_ReturnsEmptyContentAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setGenerousQuota(w)
		writeCompletion(t, w, "", 0)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv, &recordingSleeper{}, Config{})
	out, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, client.Usage().Calls())
}

func TestClientComplete_RetriesWithDefaultWaitOnUnusableRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(HeaderRetryAfter, "inf")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.waits)
}

func TestClientComplete_ReturnsErrorWhenBodyIsNotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv, &recordingSleeper{}, Config{})

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode chat response")
}

func TestClientComplete_AccumulatesCompletionTokens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setGenerousQuota(w)
		switch calls.Add(1) {
		case 1:
			writeCompletion(t, w, "a", 5)
		case 2:
			writeCompletion(t, w, "b", 7)
		default:
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"c"}}]}`))
		}
	}))
	t.Cleanup(srv.Close)

	usage := &Usage{}
	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, srv.Client(),
		WithSleeper((&recordingSleeper{}).sleep),
		WithUsage(usage),
	)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
		require.NoError(t, err)
	}
	assert.Equal(t, 12, usage.CompletionTokens())
	assert.Equal(t, 3, usage.Calls())
	assert.Same(t, usage, client.Usage())
}

func TestClientComplete_ReturnsErrorOnTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, srv, &recordingSleeper{}, Config{})
	srv.Close()

	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post chat completion")
}

func TestClientComplete_PacesRequestsPerMinute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{RequestsPerMinute: 60})

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
		require.NoError(t, err)
	}
	require.Len(t, sleeper.waits, 1)
	assert.InDelta(t, float64(time.Second), float64(sleeper.waits[0]), float64(500*time.Millisecond))
}

func TestClientComplete_RecordsMetrics(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(HeaderRetryAfter, "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 9)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv, &recordingSleeper{}, Config{})
	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)

	families, err := client.Gatherer().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			got[mf.GetName()] += m.GetCounter().GetValue()
		}
	}
	assert.InDelta(t, 2, got["nl2sql_completion_responses_total"], 0)
	assert.InDelta(t, 1, got["nl2sql_throttle_waits_total"], 0)
	assert.InDelta(t, 9, got["nl2sql_completion_tokens_total"], 0)
}

func TestClientComplete_DoesNotCountZeroWaits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set(HeaderRetryAfter, "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	sleeper := &recordingSleeper{}
	client := newTestClient(t, srv, sleeper, Config{})
	_, err := client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Empty(t, sleeper.waits)

	families, err := client.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.NotEqual(t, "nl2sql_throttle_waits_total", mf.GetName(), "no wait should be recorded")
	}
}

func TestNewClient_ReadsAPIKeyFromEnv(t *testing.T) {
	const envKey = "NL2SQL_LLM_TEST_KEY"
	t.Setenv(envKey, "from-env")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		setGenerousQuota(w)
		writeCompletion(t, w, "ok", 1)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL + "/", APIKeyEnv: envKey}, srv.Client(),
		WithSleeper((&recordingSleeper{}).sleep))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), NewCompletionRequest(DefaultParams(), UserMessage("q")))
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-env", gotAuth)
}

func TestNewClient_ReturnsErrorWhenAPIKeyMissing(t *testing.T) {
	const envKey = "NL2SQL_LLM_MISSING_KEY"
	require.NoError(t, os.Unsetenv(envKey))

	_, err := NewClient(Config{BaseURL: "http://127.0.0.1", APIKeyEnv: envKey}, nil)
	require.Error(t, err)
}
