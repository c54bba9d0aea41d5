package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/model"
)

func TestWSHub_MarketFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub([]string{"*"})
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	watched := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?market=" + watched.Hex()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races with the first broadcast, so keep publishing until
	// a frame arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Publish(ctx,
					events.NewEnvelope(other, time.Now(), events.MarketReported{Outcome: model.No}),
					events.NewEnvelope(watched, time.Now(), events.MarketReported{Outcome: model.Yes}),
				)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Kind   string         `json:"kind"`
		Source common.Address `json:"source"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Source != watched || frame.Kind != string(events.KindMarketReported) {
		t.Errorf("expected %s from watched market, got %s from %s", events.KindMarketReported, frame.Kind, frame.Source.Hex())
	}
}

func TestWSHub_RejectsBadFilter(t *testing.T) {
	hub := NewWSHub(nil)
	w := httptest.NewRecorder()
	hub.HandleWS(w, httptest.NewRequest("GET", "/api/v1/ws?market=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWSHub_OriginPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub([]string{"https://app.polybet.example"})
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	tests := []struct {
		name   string
		origin string
		want   int
	}{
		{"listed origin", "https://app.polybet.example", http.StatusSwitchingProtocols},
		{"no origin", "", http.StatusSwitchingProtocols},
		{"foreign origin", "https://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if conn != nil {
				defer conn.Close()
			}
			if resp == nil {
				t.Fatalf("no handshake response: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d (err %v)", tt.want, resp.StatusCode, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errBadRequest, classValidation},
		{context.Canceled, classInternal},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
