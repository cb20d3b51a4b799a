package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/session"
)

// Compile-time interface checks.
var (
	_ connection.Metrics = (*Metrics)(nil)
	_ session.Metrics    = (*Metrics)(nil)
)

func TestCorrelatorMetrics(t *testing.T) {
	m := New()

	m.CommandStarted(connection.KindDM)
	m.CommandStarted(connection.KindDM)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("dm")))

	m.CommandFinished(connection.KindDM, connection.OutcomeOK, 100*time.Millisecond)
	m.CommandFinished(connection.KindDM, connection.OutcomeTimeout, 2*time.Minute)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("dm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("dm", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("dm", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commandDuration))

	m.StreamFrame(connection.KindGroupChat)
	m.FrameDropped(connection.KindGroupChat, connection.DropMalformed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamFrames.WithLabelValues("group_chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("group_chat", "malformed")))
}

func TestSessionMetrics(t *testing.T) {
	m := New()

	m.StateChanged(session.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionState))

	m.ReconnectFinished(session.ReconnectOK)
	m.ResurrectFinished(3, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectsTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resurrectedTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resurrectedTotal.WithLabelValues("failed")))
}

func TestArchiveMetrics(t *testing.T) {
	m := New()

	m.TurnsWritten(5)
	m.TurnDropped()
	m.FlushFailed()

	assert.Equal(t, 5.0, testutil.ToFloat64(m.turnsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushErrors))
}

func TestServer(t *testing.T) {
	m := New()
	m.ReconnectFinished(session.ReconnectFailed)

	s := NewServer(m, 0, "/metrics", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	t.Run("metrics endpoint", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.Contains(string(body), `charchat_session_reconnects_total{outcome="failed"} 1`))
	})

	t.Run("health follows SetHealthy", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		s.SetHealthy(true)
		resp, err = http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
