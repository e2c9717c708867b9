// Package feed streams mark prices over a websocket into the execution
// engine's position bookkeeping.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/denisprosperous/v0-strategy-engine-pro-sub001/internal/infra"
)

// TickSink consumes price updates. The engine implements this.
type TickSink interface {
	OnTick(symbol string, price decimal.Decimal)
}

// tick is the wire format of one price update.
type tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// subscribeMsg is sent once per connection.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Worker maintains the feed connection, reconnecting with backoff and
// resubscribing after every connect. Malformed messages are logged and
// skipped; they never take the connection down.
type Worker struct {
	url     string
	symbols []string
	sink    TickSink

	mu     sync.RWMutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ReadTimeout time.Duration
}

// NewWorker creates a feed worker for the given endpoint and symbols.
func NewWorker(url string, symbols []string, sink TickSink) *Worker {
	return &Worker{
		url:         url,
		symbols:     symbols,
		sink:        sink,
		ReadTimeout: 60 * time.Second,
	}
}

// Start begins the connection loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("feed connection failed",
				slog.String("url", w.url),
				slog.Any("error", err),
				slog.Int("retry", retry))
			delay := infra.CalculateBackoff(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.process(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, http.Header{})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	sub := subscribeMsg{Op: "subscribe", Symbols: w.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		w.close()
		return err
	}

	slog.Info("feed connected",
		slog.String("url", w.url),
		slog.Int("symbols", len(w.symbols)))
	return nil
}

func (w *Worker) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		if err := c.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			slog.Warn("feed deadline error", slog.Any("error", err))
			w.close()
			return
		}
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("feed read error", slog.Any("error", err))
			w.close()
			return
		}

		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var t tick
	if err := json.Unmarshal(msg, &t); err != nil {
		slog.Warn("malformed feed message", slog.Any("error", err))
		return
	}
	if t.Symbol == "" || !t.Price.IsPositive() {
		return
	}
	w.sink.OnTick(t.Symbol, t.Price)
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
