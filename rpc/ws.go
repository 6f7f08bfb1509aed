package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"finerp/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 256
)

// EventMessage is one committed event as streamed on /ws.
type EventMessage struct {
	Height    uint64       `json:"height"`
	BlockHash common.Hash  `json:"blockHash"`
	TxHash    common.Hash  `json:"txHash"`
	Index     int          `json:"index"`
	Event     *types.Event `json:"event"`
}

type subscriber struct {
	ch     chan EventMessage
	prefix string
}

// eventHub fans committed events out to websocket subscribers. Subscribers
// that fall behind are dropped.
type eventHub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*subscriber]struct{})}
}

func (h *eventHub) subscribe(prefix string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &subscriber{ch: make(chan EventMessage, subscriberBuffer), prefix: prefix}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *eventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *eventHub) publish(block *types.Block) {
	if block == nil || block.Receipt == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ev := range block.Receipt.Events {
		msg := EventMessage{
			Height:    block.Header.Height,
			BlockHash: block.Hash,
			TxHash:    block.Receipt.TxHash,
			Index:     i,
			Event:     ev,
		}
		for sub := range h.subs {
			if sub.prefix != "" && !strings.HasPrefix(ev.Type, sub.prefix) {
				continue
			}
			select {
			case sub.ch <- msg:
			default:
				delete(h.subs, sub)
				close(sub.ch)
			}
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// handleEvents streams committed events. The optional "type" query
// parameter filters by event type prefix, e.g. "escrow." or "ledger.transfer".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.hub.subscribe(prefix)
	defer s.hub.unsubscribe(sub)
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("event stream opened", "requestid", requestID(r.Context()), "filter", prefix)

	if err := streamEvents(ctx, conn, sub.ch); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan EventMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return conn.Close(websocket.StatusGoingAway, "subscription ended")
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
