package gateway

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hijackRecorder is a ResponseRecorder that also supports hijacking, the way
// a real server connection does.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorderHijack(t *testing.T) {
	t.Run("passes through to the underlying writer", func(t *testing.T) {
		rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
		sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

		// Websocket upgrades need the wrapped writer to stay hijackable.
		var w http.ResponseWriter = sr
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)

		_, _, err := hj.Hijack()
		require.NoError(t, err)
		assert.True(t, rec.hijacked)
		assert.Equal(t, http.StatusSwitchingProtocols, sr.status)
	})

	t.Run("reports writers that cannot hijack", func(t *testing.T) {
		sr := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		_, _, err := sr.Hijack()
		assert.Error(t, err)
	})
}
