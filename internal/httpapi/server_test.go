package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iammarcin/backend-sub006/internal/audio"
	"github.com/iammarcin/backend-sub006/internal/config"
	"github.com/iammarcin/backend-sub006/internal/history"
	"github.com/iammarcin/backend-sub006/internal/provider"
	"github.com/iammarcin/backend-sub006/internal/realtime"
	"github.com/iammarcin/backend-sub006/internal/registry"
	"github.com/iammarcin/backend-sub006/internal/session"
)

func testServer(t *testing.T, store history.Store) (*Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		OutboundQueueSize:        256,
		LiveTranslationDefault:   true,
		VADEnabled:               false,
		TargetLanguage:           "en",
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := audio.NewValidator(audio.FormatPCM16, 24000, 20*time.Millisecond)
	conns := registry.New()
	eng := realtime.NewEngine(sessions, provider.NewMockProvider(), store, conns, validator, nil, log, "", 64)
	return New(cfg, sessions, eng, store, conns, nil, log), sessions
}

func TestCreateAndEndSession(t *testing.T) {
	srv, _ := testServer(t, history.NewInMemoryStore())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/realtime/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if !created.Settings.AudioInput || !created.Settings.TextOutput {
		t.Fatalf("default modalities wrong: %+v", created.Settings)
	}
	if !created.Settings.LiveTranslation {
		t.Fatalf("live translation default not applied")
	}

	endRes, err := http.Post(ts.URL+"/v1/realtime/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
}

func TestCreateSessionRejectsNoOutputModality(t *testing.T) {
	srv, _ := testServer(t, history.NewInMemoryStore())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	f := false
	body, _ := json.Marshal(session.CreateRequest{
		UserID: "user-1", TextOutput: &f, AudioOutput: &f,
	})
	res, err := http.Post(ts.URL+"/v1/realtime/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestEndUnknownSession(t *testing.T) {
	srv, _ := testServer(t, history.NewInMemoryStore())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/realtime/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := history.NewInMemoryStore()
	if err := store.SaveTurn(context.Background(), history.TurnRecord{
		ID: "t1", UserID: "user-1", SessionID: "s1",
		Transcript: "hola", ResponseText: "hello", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	srv, _ := testServer(t, store)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/realtime/history?user_id=user-1")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		Turns []history.TurnRecord `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Turns) != 1 || payload.Turns[0].Transcript != "hola" {
		t.Fatalf("unexpected history payload: %+v", payload)
	}

	bySession, err := http.Get(ts.URL + "/v1/realtime/history?session_id=s1")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer bySession.Body.Close()
	if bySession.StatusCode != http.StatusOK {
		t.Fatalf("session query status = %d, want %d", bySession.StatusCode, http.StatusOK)
	}
	var sessionPayload struct {
		Turns []history.TurnRecord `json:"turns"`
	}
	if err := json.NewDecoder(bySession.Body).Decode(&sessionPayload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(sessionPayload.Turns) != 1 || sessionPayload.Turns[0].SessionID != "s1" {
		t.Fatalf("unexpected session history payload: %+v", sessionPayload)
	}

	missing, err := http.Get(ts.URL + "/v1/realtime/history")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d, want %d", missing.StatusCode, http.StatusBadRequest)
	}
}

func TestWSMissingSession(t *testing.T) {
	srv, _ := testServer(t, history.NewInMemoryStore())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/realtime/session/ws?session_id=nope")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestWSFullTurnOverSocket(t *testing.T) {
	store := history.NewInMemoryStore()
	srv, sessions := testServer(t, store)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := sessions.Create("user-1", session.Settings{
		AudioInput: true, TextOutput: true, LiveTranslation: true,
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/realtime/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	samples := 2400
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(900)
		if i%2 == 1 {
			v = -900
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	chunk := map[string]any{
		"type":         "client_audio_chunk",
		"session_id":   sess.ID,
		"seq":          1,
		"pcm16_base64": base64.StdEncoding.EncodeToString(pcm),
		"sample_rate":  24000,
	}
	if err := conn.WriteJSON(chunk); err != nil {
		t.Fatalf("write audio chunk: %v", err)
	}
	commit := map[string]any{
		"type":       "client_control",
		"session_id": sess.ID,
		"action":     "commit",
	}
	if err := conn.WriteJSON(commit); err != nil {
		t.Fatalf("write commit: %v", err)
	}

	sawText := false
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read message: %v (saw_text=%v)", err, sawText)
		}
		switch msg["type"] {
		case "assistant_text_delta":
			sawText = true
		case "turn_complete":
			if msg["reason"] != "completed" {
				t.Fatalf("turn_complete reason = %v", msg["reason"])
			}
			if !sawText {
				t.Fatalf("turn completed without any text delta")
			}
			turns, err := store.RecentTurns(context.Background(), "user-1", 10)
			if err != nil {
				t.Fatalf("RecentTurns() error = %v", err)
			}
			if len(turns) != 1 {
				t.Fatalf("persisted turns = %d, want 1", len(turns))
			}
			return
		}
	}
}
