package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayConsumerDeliversFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		data, _ := json.Marshal(RawMessage{ID: "msg-1", ChannelID: "chan-1"})
		frames := []RawEvent{
			{Seq: 1, Type: EventMessageCreate, Data: data},
			{Seq: 2, Type: EventMessageDelete, Data: data},
			{Seq: 3, Type: "PRESENCE_UPDATE", Data: nil},
		}
		for _, frame := range frames {
			require.NoError(t, conn.WriteJSON(frame))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	var created, deleted []int64
	done := make(chan struct{})
	consumer := &GatewayConsumer{
		Host:  "ws" + strings.TrimPrefix(server.URL, "http"),
		Token: "test-token",
		Callbacks: GatewayCallbacks{
			MessageCreate: func(_ context.Context, evt *RawEvent) error {
				created = append(created, evt.Seq)
				return nil
			},
			MessageDelete: func(_ context.Context, evt *RawEvent) error {
				deleted = append(deleted, evt.Seq)
				close(done)
				return nil
			},
		},
		Logger: zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	cancel()
	<-errCh

	assert.Equal(t, []int64{1}, created)
	assert.Equal(t, []int64{2}, deleted)
	assert.GreaterOrEqual(t, consumer.LastSeq(), int64(2), "sequence tracked for resume")
}

func TestGatewayConsumerStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		// hold the stream open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	consumer := &GatewayConsumer{
		Host:   "ws" + strings.TrimPrefix(server.URL, "http"),
		Logger: zerolog.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
