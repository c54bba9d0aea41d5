package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/model"
)

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestEventCounter(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buys := value(t, TradesTotal.WithLabelValues("buy", "yes"))
	sells := value(t, TradesTotal.WithLabelValues("sell", "no"))
	reported := value(t, EventsTotal.WithLabelValues(string(events.KindMarketReported)))

	EventCounter{}.Publish(context.Background(),
		events.NewEnvelope(market, time.Now(), events.TokensPurchased{Outcome: model.Yes}),
		events.NewEnvelope(market, time.Now(), events.TokensSold{Outcome: model.No}),
		events.NewEnvelope(market, time.Now(), events.MarketReported{Outcome: model.No}),
	)

	if got := value(t, TradesTotal.WithLabelValues("buy", "yes")); got != buys+1 {
		t.Errorf("buy counter = %v, want %v", got, buys+1)
	}
	if got := value(t, TradesTotal.WithLabelValues("sell", "no")); got != sells+1 {
		t.Errorf("sell counter = %v, want %v", got, sells+1)
	}
	if got := value(t, EventsTotal.WithLabelValues(string(events.KindMarketReported))); got != reported+1 {
		t.Errorf("event counter = %v, want %v", got, reported+1)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/markets/{address}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := value(t, HTTPRequestsTotal.WithLabelValues("GET", "/markets/{address}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/markets/0xabc", nil))
	if got := value(t, HTTPRequestsTotal.WithLabelValues("GET", "/markets/{address}", "418")); got != before+1 {
		t.Errorf("expected request counted under route pattern, got %v", got-before)
	}
}
