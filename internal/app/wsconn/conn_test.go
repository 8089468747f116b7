package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzpresence/internal/app/presence"
)

// pair starts a server-side Conn and returns it with the dialed client connection.
func pair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	accepted := make(chan *Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := New(ws, zerolog.Nop())
		go c.WritePump()
		go c.ReadPump()
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-accepted:
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the connection")
		return nil, nil
	}
}

func TestSendWritesJSONFrames(t *testing.T) {
	c, client := pair(t)

	require.NoError(t, c.Send(presence.ConnectEcho("sock-1", 2)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"event":"socketConnectEcho","args":["sock-1",2]}`, string(data))
}

func TestCloseFlushesThenSendsGoingAway(t *testing.T) {
	c, client := pair(t)

	require.NoError(t, c.Send(presence.Disconnect()))
	require.NoError(t, c.Close("server shutting down"))
	assert.ErrorIs(t, c.Send(presence.Disconnect()), ErrClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"disconnect","args":[]}`, string(data))

	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Close")
	}

	// Closing twice is harmless.
	assert.NoError(t, c.Close("again"))
}

func TestDoneWhenPeerLeaves(t *testing.T) {
	c, client := pair(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"ignored":true}`)))
	require.NoError(t, client.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after the peer left")
	}

	assert.ErrorIs(t, c.Send(presence.Disconnect()), ErrClosed)
}
