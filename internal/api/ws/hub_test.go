package ws_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tenantctx/internal/api/ws"
	"github.com/gosuda/tenantctx/internal/server/middleware"
	"github.com/gosuda/tenantctx/internal/store/memory"
	redisstore "github.com/gosuda/tenantctx/internal/store/redis"
)

func TestServeSession_StreamsSessionEvents(t *testing.T) {
	t.Parallel()

	pubsub := memory.NewPubSub()
	hub := ws.NewHub(pubsub)
	sid := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(middleware.WithIdentity(r.Context(), uuid.New(), sid))
		hub.ServeSession(w, r)
	}))
	t.Cleanup(srv.Close)

	ctx := t.Context()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered after the handshake; publish until the
	// first message arrives.
	received := make(chan []byte, 1)
	go func() {
		_, msg, readErr := conn.Read(ctx)
		if readErr == nil {
			received <- msg
		}
	}()

	payload := []byte(`{"type":"tenant_switched"}`)
	other := redisstore.SessionChannel(uuid.New())
	assert.Eventually(t, func() bool {
		_ = pubsub.Publish(ctx, other, []byte(`{"type":"wrong"}`))
		_ = pubsub.Publish(ctx, redisstore.SessionChannel(sid), payload)
		select {
		case msg := <-received:
			assert.JSONEq(t, string(payload), string(msg))
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServeSession_RequiresSession(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub(memory.NewPubSub())
	rec := httptest.NewRecorder()
	hub.ServeSession(rec, httptest.NewRequest(http.MethodGet, "/ws/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
