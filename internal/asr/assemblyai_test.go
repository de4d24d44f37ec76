package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeRecognizer is a minimal server-side stand-in for the realtime API.
func fakeRecognizer(t *testing.T, handle func(ws *websocket.Conn, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handle(ws, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStart_SendsAuthAndAudio(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	gotAuth := make(chan string, 1)

	url := fakeRecognizer(t, func(ws *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "pcm_mulaw", r.URL.Query().Get("encoding"))

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			AudioData string `json:"audio_data"`
		}
		if json.Unmarshal(data, &frame) == nil {
			decoded, _ := base64.StdEncoding.DecodeString(frame.AudioData)
			gotAudio <- decoded
		}
		_ = ws.WriteJSON(map[string]any{"message_type": "FinalTranscript", "text": "hello there"})
		time.Sleep(200 * time.Millisecond)
	})

	client, err := NewAssemblyAIClient(AssemblyAIConfig{APIKey: "key-123", RealtimeURL: url})
	require.NoError(t, err)

	sess, err := client.Start(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Write([]byte{0x10, 0x20}))

	assert.Equal(t, "key-123", <-gotAuth)
	assert.Equal(t, []byte{0x10, 0x20}, <-gotAudio)

	select {
	case ev := <-sess.Events():
		require.NoError(t, ev.Err)
		assert.True(t, ev.IsFinal)
		assert.Equal(t, "hello there", ev.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript event")
	}
}

func TestSession_PartialAndErrorEvents(t *testing.T) {
	url := fakeRecognizer(t, func(ws *websocket.Conn, r *http.Request) {
		_ = ws.WriteJSON(map[string]any{"message_type": "PartialTranscript", "text": "hel"})
		_ = ws.WriteJSON(map[string]any{"message_type": "SessionError", "error": "rate limited"})
		time.Sleep(200 * time.Millisecond)
	})

	client, err := NewAssemblyAIClient(AssemblyAIConfig{APIKey: "key", RealtimeURL: url})
	require.NoError(t, err)

	sess, err := client.Start(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ev := <-sess.Events()
	assert.False(t, ev.IsFinal)
	assert.Equal(t, "hel", ev.Text)

	ev = <-sess.Events()
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "rate limited")
}

func TestSession_CloseTerminates(t *testing.T) {
	terminated := make(chan struct{})
	url := fakeRecognizer(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "terminate_session") {
				close(terminated)
				return
			}
		}
	})

	client, err := NewAssemblyAIClient(AssemblyAIConfig{APIKey: "key", RealtimeURL: url})
	require.NoError(t, err)

	sess, err := client.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("terminate_session never sent")
	}

	require.Error(t, sess.Write([]byte{1}))
}

func TestNewAssemblyAIClient_RequiresKey(t *testing.T) {
	_, err := NewAssemblyAIClient(AssemblyAIConfig{})
	require.Error(t, err)
}
