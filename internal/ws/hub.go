// Package ws streams order status changes to subscribed clients. Delivery is
// best-effort: the durable record is the order row, the stream is a mirror.
package ws

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
)

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	orderID string
}

// Hub fans committed transitions out to per-order subscriber sets.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan orders.StatusSnapshot
	clients    map[string]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan orders.StatusSnapshot, 256),
		clients:    make(map[string]map[*client]bool),
	}
}

// Run blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true

		case c := <-h.unregister:
			if set, ok := h.clients[c.orderID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.orderID)
				}
			}

		case snap := <-h.broadcast:
			set, ok := h.clients[snap.OrderID]
			if !ok {
				continue
			}
			msg, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			for c := range set {
				select {
				case c.send <- msg:
				default:
					// slow consumer, drop it
					delete(set, c)
					close(c.send)
				}
			}

		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) Broadcast(snap orders.StatusSnapshot) {
	select {
	case h.broadcast <- snap:
	default:
	}
}

// OrderChanged implements orders.Notifier.
func (h *Hub) OrderChanged(_ context.Context, o *orders.Order) {
	h.Broadcast(o.Snapshot())
}
