package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Feed streams lifecycle events of one user.
type Feed interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (<-chan domain.Event, func(), error)
}

type WSHandler struct {
	practice Practice
	feed     Feed
	upgrader websocket.Upgrader
}

func NewWSHandler(practice Practice, feed Feed) *WSHandler {
	return &WSHandler{
		practice: practice,
		feed:     feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type assignPayload struct {
	Level int `json:"level"`
}

type submitPayload struct {
	AttemptID           uuid.UUID `json:"attemptId"`
	SelectedOptionIndex *int      `json:"selectedOptionIndex,omitempty"`
	TimeTakenMs         *int      `json:"timeTakenMs,omitempty"`
}

type subscribedPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades to a websocket bound to one user. The client can request
// tasks ("assign") and answer them ("submit"); every committed lifecycle event
// of that user, from any connection or instance, is pushed as "progress".
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.feed.Subscribe(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				// unblocks the pending ReadJSON
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case evt, ok := <-updates:
				if !ok {
					return
				}
				msg := outboundMessage[any]{Type: "progress", Payload: evt}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if deliver(send, writerDone, outboundMessage[any]{Type: "subscribed", Payload: subscribedPayload{UserID: userID}}) {
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			if !deliver(send, writerDone, h.handle(r.Context(), userID, inbound)) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, userID uuid.UUID, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "assign":
		var payload assignPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid assign payload")
		}
		assignment, err := h.practice.Assign(ctx, domain.AssignRequest{UserID: &userID, Level: payload.Level})
		if err != nil {
			return errorMessage(err.Error())
		}
		return outboundMessage[any]{Type: "assigned", Payload: assignment}
	case "submit":
		var payload submitPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid submit payload")
		}
		result, err := h.practice.Finalize(ctx, domain.SubmitRequest{
			UserID:              userID,
			AttemptID:           payload.AttemptID,
			SelectedOptionIndex: payload.SelectedOptionIndex,
			TimeTakenMs:         payload.TimeTakenMs,
		})
		if err != nil {
			return errorMessage(err.Error())
		}
		return outboundMessage[any]{Type: "scored", Payload: result}
	}
	return errorMessage("unsupported message type")
}

// deliver queues msg for the writer. It reports false once the writer has
// stopped, instead of blocking on a full queue.
func deliver(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
