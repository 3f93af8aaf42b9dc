package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/crypto"
	"github.com/yogi2103/zulip/internal/fanout"
	"github.com/yogi2103/zulip/internal/handlers"
	"github.com/yogi2103/zulip/internal/store"
	"github.com/yogi2103/zulip/internal/submessage"
)

type testServer struct {
	router    *chi.Mux
	db        *store.SQLiteStore
	publisher *fanout.Publisher
}

type testUser struct {
	ID  int64
	Key string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, Options{})
}

func newTestServerWith(t *testing.T, opts Options) *testServer {
	t.Helper()
	crypto.APIKeyCost = bcrypt.MinCost

	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	logger := zerolog.Nop()
	events := fanout.NewMemorySink(100)
	publisher := fanout.NewPublisher(events, logger, fanout.Config{})
	t.Cleanup(func() { publisher.Close(context.Background()) })

	service := submessage.NewService(db, publisher, logger)
	h := handlers.NewHandler(db, events, service, logger)

	return &testServer{
		router:    NewRouter(logger, h, middleware.NewAuthMiddleware(db), opts),
		db:        db,
		publisher: publisher,
	}
}

func (s *testServer) do(t *testing.T, method, path string, user *testUser, body any) (int, map[string]any) {
	t.Helper()

	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case url.Values:
		req = httptest.NewRequest(method, path, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, strings.NewReader(string(data)))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set(middleware.HeaderUserID, fmt.Sprint(user.ID))
		req.Header.Set("Authorization", "Bearer "+user.Key)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (s *testServer) register(t *testing.T, email string) *testUser {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/users", nil, map[string]string{"email": email, "full_name": email})
	require.Equal(t, http.StatusOK, code, body)
	return &testUser{ID: int64(body["id"].(float64)), Key: body["api_key"].(string)}
}

func (s *testServer) sendPrivate(t *testing.T, from *testUser, to ...*testUser) int64 {
	t.Helper()
	ids := make([]int64, len(to))
	for i, u := range to {
		ids[i] = u.ID
	}
	code, body := s.do(t, http.MethodPost, "/messages", from, map[string]any{
		"type":    "private",
		"to":      ids,
		"content": "hello",
	})
	require.Equal(t, http.StatusOK, code, body)
	return int64(body["id"].(float64))
}

func (s *testServer) submessageCount(t *testing.T) int64 {
	t.Helper()
	n, err := s.db.CountSubMessages(context.Background())
	require.NoError(t, err)
	return n
}

func TestSubmessage_InvalidJSON(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")
	u2 := s.register(t, "u2@example.com")
	msgID := s.sendPrivate(t, u1, u2)

	code, body := s.do(t, http.MethodPost, "/submessage", u1, map[string]any{
		"message_id": msgID,
		"msg_type":   "whatever",
		"content":    "not json",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["result"])
	assert.Equal(t, "Invalid json for submessage", body["msg"])
	assert.Zero(t, s.submessageCount(t))
}

func TestSubmessage_InvisibleMessage(t *testing.T) {
	s := newTestServer(t)
	cordelia := s.register(t, "cordelia@example.com")
	hamlet := s.register(t, "hamlet@example.com")
	othello := s.register(t, "othello@example.com")
	msgID := s.sendPrivate(t, hamlet, othello)

	code, body := s.do(t, http.MethodPost, "/submessage", cordelia, map[string]any{
		"message_id": msgID,
		"msg_type":   "whatever",
		"content":    `{"name":"alice","salary":20}`,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid message(s)", body["msg"])

	code, body = s.do(t, http.MethodPost, "/submessage", cordelia, map[string]any{
		"message_id": msgID + 1000,
		"msg_type":   "whatever",
		"content":    "{}",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid message(s)", body["msg"], "missing and inaccessible look the same")
	assert.Zero(t, s.submessageCount(t))
}

func TestSubmessage_Success(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")
	u2 := s.register(t, "u2@example.com")
	msgID := s.sendPrivate(t, u1, u2)

	content := `{"name":"alice","salary":20}`
	code, body := s.do(t, http.MethodPost, "/submessage", u1, map[string]any{
		"message_id": msgID,
		"msg_type":   "whatever",
		"content":    content,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "success", body["result"])
	submessageID := int64(body["submessage_id"].(float64))

	// Both participants receive the event
	for _, u := range []*testUser{u1, u2} {
		code, body := s.do(t, http.MethodGet, "/events?wait=5", u, nil)
		require.Equal(t, http.StatusOK, code)
		events := body["events"].([]any)
		require.Len(t, events, 1)

		envelope := events[0].(map[string]any)
		ev := envelope["event"].(map[string]any)
		assert.Equal(t, "submessage", ev["type"])
		assert.Equal(t, float64(msgID), ev["message_id"])
		assert.Equal(t, float64(submessageID), ev["submessage_id"])
		assert.Equal(t, content, ev["content"])
		assert.Equal(t, "whatever", ev["msg_type"])
		assert.Equal(t, float64(u1.ID), ev["sender_id"])
		assert.ElementsMatch(t, []any{float64(u1.ID), float64(u2.ID)}, envelope["users"])
	}

	// Serialized message embeds its submessages
	code, body = s.do(t, http.MethodGet, fmt.Sprintf("/messages/%d", msgID), u2, nil)
	require.Equal(t, http.StatusOK, code)
	subs := body["message"].(map[string]any)["submessages"].([]any)
	require.Len(t, subs, 1)
	assert.Equal(t, content, subs[0].(map[string]any)["content"])
}

func TestSubmessage_FormEncoded(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")
	msgID := s.sendPrivate(t, u1)

	code, body := s.do(t, http.MethodPost, "/submessage", u1, url.Values{
		"message_id": {fmt.Sprint(msgID)},
		"msg_type":   {"widget"},
		"content":    {`{"type":"vote"}`},
	})
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(t, http.MethodPost, "/submessage", u1, url.Values{
		"message_id": {"abc"},
		"msg_type":   {"widget"},
		"content":    {"{}"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Bad value for 'message_id'", body["msg"])

	code, body = s.do(t, http.MethodPost, "/submessage", u1, url.Values{
		"msg_type": {"widget"},
		"content":  {"{}"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing 'message_id' argument", body["msg"])

	assert.Equal(t, int64(1), s.submessageCount(t))
}

func TestSubmessage_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")

	code, _ := s.do(t, http.MethodPost, "/submessage", nil, map[string]any{"message_id": 1})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodPost, "/submessage", &testUser{ID: u1.ID, Key: "wrong"}, map[string]any{"message_id": 1})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid credentials", body["msg"])
}

func TestGetMessages_EmbedsSubmessages(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")
	u2 := s.register(t, "u2@example.com")
	u3 := s.register(t, "u3@example.com")

	m1 := s.sendPrivate(t, u1, u2)
	m2 := s.sendPrivate(t, u1, u2)
	hidden := s.sendPrivate(t, u3)

	for i, content := range []string{`"a"`, `"b"`} {
		code, body := s.do(t, http.MethodPost, "/submessage", u2, map[string]any{
			"message_id": m1,
			"msg_type":   "widget",
			"content":    content,
		})
		require.Equal(t, http.StatusOK, code, "submessage %d: %v", i, body)
	}

	code, body := s.do(t, http.MethodGet, fmt.Sprintf("/messages?ids=%d,%d,%d", m1, m2, hidden), u1, nil)
	require.Equal(t, http.StatusOK, code, body)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)

	first := msgs[0].(map[string]any)
	assert.Equal(t, float64(m1), first["id"])
	subs := first["submessages"].([]any)
	require.Len(t, subs, 2)
	assert.Equal(t, `"a"`, subs[0].(map[string]any)["content"])
	assert.Equal(t, `"b"`, subs[1].(map[string]any)["content"])

	second := msgs[1].(map[string]any)
	assert.Equal(t, []any{}, second["submessages"])

	code, body = s.do(t, http.MethodGet, fmt.Sprintf("/messages/%d", hidden), u1, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid message(s)", body["msg"])
}

func TestStreamSubmessageFanout(t *testing.T) {
	s := newTestServer(t)
	owner := s.register(t, "owner@example.com")
	member := s.register(t, "member@example.com")
	outsider := s.register(t, "outsider@example.com")

	code, body := s.do(t, http.MethodPost, "/streams", owner, map[string]string{"name": "polls"})
	require.Equal(t, http.StatusOK, code, body)
	streamID := int64(body["stream"].(map[string]any)["stream_id"].(float64))

	code, _ = s.do(t, http.MethodPost, fmt.Sprintf("/streams/%d/subscribe", streamID), member, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodPost, "/messages", outsider, map[string]any{
		"type": "stream", "stream_id": streamID, "topic": "lunch", "content": "hi",
	})
	assert.Equal(t, http.StatusForbidden, code, body)

	code, body = s.do(t, http.MethodPost, "/messages", owner, map[string]any{
		"type": "stream", "stream_id": streamID, "topic": "lunch", "content": "/poll where?",
	})
	require.Equal(t, http.StatusOK, code, body)
	msgID := int64(body["id"].(float64))

	code, body = s.do(t, http.MethodPost, "/submessage", outsider, map[string]any{
		"message_id": msgID, "msg_type": "widget", "content": "{}",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid message(s)", body["msg"])

	code, body = s.do(t, http.MethodPost, "/submessage", member, map[string]any{
		"message_id": msgID, "msg_type": "widget", "content": `{"type":"vote"}`,
	})
	require.Equal(t, http.StatusOK, code, body)

	// Drain the fanout so the queues are settled
	require.NoError(t, s.publisher.Close(context.Background()))

	for _, u := range []*testUser{owner, member} {
		_, body := s.do(t, http.MethodGet, "/events", u, nil)
		assert.Len(t, body["events"], 1)
	}
	_, body = s.do(t, http.MethodGet, "/events", outsider, nil)
	assert.Empty(t, body["events"])
}

func TestHealthAndStats(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "u1@example.com")

	code, body := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = s.do(t, http.MethodGet, "/stats", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total_users"])
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "u1@example.com")

	code, body := s.do(t, http.MethodPost, "/users", nil, map[string]string{"email": "U1@example.com"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "email already in use", body["msg"])

	code, _ = s.do(t, http.MethodPost, "/users", nil, map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEvents_LongPollTimesOut(t *testing.T) {
	s := newTestServer(t)
	u1 := s.register(t, "u1@example.com")

	start := time.Now()
	code, body := s.do(t, http.MethodGet, "/events?wait=1", u1, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["events"])
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestSubmessage_ForgedUserHeaderKeepsVictimBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := middleware.NewRateLimiter(client, zerolog.Nop(), middleware.RateLimiterConfig{
		Limits: []middleware.RateLimit{
			{Prefix: "POST /submessage", Requests: 2, Window: time.Hour, Scope: middleware.ScopeUser},
		},
	})

	s := newTestServerWith(t, Options{Limiter: limiter})
	victim := s.register(t, "victim@example.com")
	other := s.register(t, "other@example.com")
	msgID := s.sendPrivate(t, victim, other)

	body := url.Values{"message_id": {fmt.Sprint(msgID)}, "msg_type": {"widget"}, "content": {"{}"}}

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/submessage", strings.NewReader(body.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(middleware.HeaderUserID, fmt.Sprint(victim.ID))
		req.RemoteAddr = "198.51.100.66:1234"
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	code, resp := s.do(t, http.MethodPost, "/submessage", victim, body)
	assert.Equal(t, http.StatusOK, code, resp)
	code, resp = s.do(t, http.MethodPost, "/submessage", victim, body)
	assert.Equal(t, http.StatusOK, code, resp)

	code, resp = s.do(t, http.MethodPost, "/submessage", victim, body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", resp["msg"])

	code, _ = s.do(t, http.MethodPost, "/submessage", other, body)
	assert.Equal(t, http.StatusOK, code, "budgets are per authenticated user")
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	s := newTestServer(t)

	const n = 8
	type outcome struct {
		code int
		msg  string
	}
	results := make(chan outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"email":"race@example.com"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			var body map[string]any
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			msg, _ := body["msg"].(string)
			results <- outcome{rec.Code, msg}
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for res := range results {
		if res.code == http.StatusOK {
			created++
			continue
		}
		assert.Equal(t, http.StatusBadRequest, res.code)
		assert.Equal(t, "email already in use", res.msg)
	}
	assert.Equal(t, 1, created)
}
