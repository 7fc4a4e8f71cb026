package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradecore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveFeedTopics is the set of events the dashboard's live feed streams:
// every decision record and every trade-lifecycle transition (spec §6's
// "interface only" out-of-scope dashboard seam).
var liveFeedTopics = []events.Event{
	events.EventDecisionRecorded,
	events.EventTradeSubmitted,
	events.EventTradeFilled,
	events.EventTradeFailed,
	events.EventSafetyRejected,
}

// liveFeed upgrades to a websocket and fans in every live-feed topic onto
// one connection, tagging each message with its topic.
func (s *Server) liveFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	type envelope struct {
		Topic   events.Event `json:"topic"`
		Payload any          `json:"payload"`
	}

	merged := make(chan envelope, 100)
	var unsubs []func()
	for _, topic := range liveFeedTopics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		unsubs = append(unsubs, unsub)
		go func(topic events.Event, stream <-chan any) {
			for payload := range stream {
				select {
				case merged <- envelope{Topic: topic, Payload: payload}:
				default:
				}
			}
		}(topic, stream)
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[API] ws write error: %v", err)
			return
		}
	}
}
