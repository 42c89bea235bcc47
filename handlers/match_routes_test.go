package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rps-match-service/models"
	"rps-match-service/services"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app     *fiber.App
	svc     *services.MatchService
	hub     *services.Hub
	metrics *services.Metrics
	clock   *quartz.Mock
}

func newTestEnv(t *testing.T, token string) *testEnv {
	return newTestEnvWithLimit(t, token, 0)
}

func newTestEnvWithLimit(t *testing.T, token string, limit int) *testEnv {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	env := &testEnv{
		hub:     services.NewHub(logger, 64),
		metrics: services.NewMetrics(),
		clock:   quartz.NewMock(t),
	}
	env.svc = services.NewMatchService(services.NewMemoryStore(), env.hub, env.clock, logger, services.WithMetrics(env.metrics))
	env.app = NewApp(AppOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		ServiceToken:   token,
		RateLimit:      limit,
	}, env.svc, env.hub, env.metrics, logger)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func (e *testEnv) createMatch(t *testing.T, wallet string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/matches", map[string]string{"wallet": wallet, "wager": "250"})
	require.Equal(t, http.StatusCreated, status, body)
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret")
	status, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.createMatch(t, "0xA")

	status, body := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "action.create.accepted")
}

func TestGatewayToken(t *testing.T) {
	env := newTestEnv(t, "secret")
	payload := map[string]string{"wallet": "0xA", "wager": "1"}

	status, body := env.do(t, http.MethodPost, "/api/matches", payload)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = env.do(t, http.MethodPost, "/api/matches", payload, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/api/matches", payload, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusCreated, status)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnvWithLimit(t, "", 2)
	missing := "/api/matches/00000000-0000-0000-0000-000000000000"

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, http.MethodGet, missing, nil)
		assert.Equal(t, http.StatusNotFound, status)
	}
	status, body := env.do(t, http.MethodGet, missing, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["error"])

	status, _ = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMatchFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.createMatch(t, "0xA")
	base := "/api/matches/" + id

	status, _ := env.do(t, http.MethodPost, base+"/join", map[string]string{"wallet": "0xB"})
	require.Equal(t, http.StatusOK, status)

	for wallet, c := range map[string]models.Choice{"0xA": models.Scissors, "0xB": models.Paper} {
		status, body := env.do(t, http.MethodPost, base+"/commit", map[string]string{
			"wallet": wallet,
			"commit": services.CommitDigest(c, "salt-"+wallet),
		})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, true, body["ok"])
	}

	status, body := env.do(t, http.MethodPost, base+"/reveal", map[string]string{"wallet": "0xA", "choice": "scissors", "salt": "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_reveal", body["error"])

	for wallet, c := range map[string]string{"0xA": "scissors", "0xB": "paper"} {
		status, body := env.do(t, http.MethodPost, base+"/reveal", map[string]string{"wallet": wallet, "choice": c, "salt": "salt-" + wallet})
		require.Equal(t, http.StatusOK, status, body)
	}

	status, body = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, string(models.StatusCompleted), body["status"])
	assert.Equal(t, "0xA", body["winner"])
	assert.Equal(t, "scissors", body["reveal_a"])
	assert.Equal(t, "paper", body["reveal_b"])
	assert.Equal(t, "250", body["wager"])
	assert.NotContains(t, body, "version")
}

func TestErrorResponses(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.createMatch(t, "0xA")
	base := "/api/matches/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/matches", "{", http.StatusBadRequest, "validation"},
		{"bad wager", http.MethodPost, "/api/matches", map[string]string{"wallet": "0xA", "wager": "1e3"}, http.StatusBadRequest, "validation"},
		{"unknown match", http.MethodGet, "/api/matches/00000000-0000-0000-0000-000000000000", nil, http.StatusNotFound, "not_found"},
		{"malformed match id", http.MethodGet, "/api/matches/abc", nil, http.StatusNotFound, "not_found"},
		{"join malformed match id", http.MethodPost, "/api/matches/abc/join", map[string]string{"wallet": "0xB"}, http.StatusNotFound, "not_found"},
		{"join own match", http.MethodPost, base + "/join", map[string]string{"wallet": "0xA"}, http.StatusConflict, "cannot_join_own_match"},
		{"commit before join", http.MethodPost, base + "/commit", map[string]string{"wallet": "0xA", "commit": "abc"}, http.StatusConflict, "wrong_phase"},
		{"reveal bad choice", http.MethodPost, base + "/reveal", map[string]string{"wallet": "0xA", "choice": "lizard", "salt": "s"}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestDeadlineOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.createMatch(t, "0xA")
	base := "/api/matches/" + id

	status, _ := env.do(t, http.MethodPost, base+"/join", map[string]string{"wallet": "0xB"})
	require.Equal(t, http.StatusOK, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.clock.Advance(61 * time.Second).MustWait(ctx)

	status, body := env.do(t, http.MethodPost, base+"/commit", map[string]string{"wallet": "0xA", "commit": "abc"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "deadline_passed", body["error"])

	_, body = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, string(models.StatusCancelled), body["status"])
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusForCode("validation"))
	assert.Equal(t, http.StatusNotFound, StatusForCode("not_found"))
	assert.Equal(t, http.StatusConflict, StatusForCode("already_joined"))
	assert.Equal(t, http.StatusConflict, StatusForCode("no_commit"))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForCode("invalid_reveal"))
	assert.Equal(t, http.StatusServiceUnavailable, StatusForCode("store_conflict"))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode("internal"))
}

func TestMatchEventStream(t *testing.T) {
	env := newTestEnv(t, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = env.app.Listener(ln) }()
	t.Cleanup(func() { _ = env.app.Shutdown() })

	id := env.createMatch(t, "0xA")
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/api/matches/%s/events", ln.Addr(), id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// The opening comment means the subscription is live.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ":\n", line)

	ctx := context.Background()
	_, err = env.svc.Join(ctx, services.JoinRequest{MatchID: id, Wallet: "0xB"})
	require.NoError(t, err)
	for _, w := range []string{"0xA", "0xB"} {
		_, err = env.svc.Commit(ctx, services.CommitRequest{MatchID: id, Wallet: w, Commit: services.CommitDigest(models.Rock, w)})
		require.NoError(t, err)
	}
	for _, w := range []string{"0xA", "0xB"} {
		_, err = env.svc.Reveal(ctx, services.RevealRequest{MatchID: id, Wallet: w, Choice: "rock", Salt: w})
		require.NoError(t, err)
	}

	var events []string
	var last models.Event
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		}
	}

	assert.Equal(t, []string{
		"match:joined",
		"match:committed",
		"match:committed",
		"match:updated",
		"match:revealed",
		"match:revealed",
		"match:completed",
	}, events)
	assert.Equal(t, models.EventMatchCompleted, last.Type)
	assert.Equal(t, id, last.MatchID)
	assert.Nil(t, last.Winner, "rock draws rock")
}

func TestMatchEventStreamUnknownMatch(t *testing.T) {
	env := newTestEnv(t, "")
	status, body := env.do(t, http.MethodGet, "/api/matches/00000000-0000-0000-0000-000000000000/events", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestMatchEventStreamFinishedMatch(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.createMatch(t, "0xA")
	ctx := context.Background()
	_, err := env.svc.Join(ctx, services.JoinRequest{MatchID: id, Wallet: "0xB"})
	require.NoError(t, err)
	for _, w := range []string{"0xA", "0xB"} {
		_, err = env.svc.Commit(ctx, services.CommitRequest{MatchID: id, Wallet: w, Commit: services.CommitDigest(models.Paper, w)})
		require.NoError(t, err)
	}
	for _, w := range []string{"0xA", "0xB"} {
		_, err = env.svc.Reveal(ctx, services.RevealRequest{MatchID: id, Wallet: w, Choice: "paper", Salt: w})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/matches/"+id+"/events", nil)
	resp, err := env.app.Test(req, 2000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, ":\n\n", string(raw))
	assert.Equal(t, 0, env.hub.SubscriberCount(id))
}
