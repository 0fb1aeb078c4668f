package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/odontoagenda/agenda/internal/domain/access"
	"github.com/odontoagenda/agenda/internal/platform/apperr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// CanWatch reports whether actor may receive events on topic. Calendar
// topics follow the view policy for that calendar; TopicAll is limited to
// actors allowed to list every calendar.
func CanWatch(actor access.Actor, topic string) bool {
	if topic == TopicAll {
		return access.Authorize(actor, access.OpList, access.Target{PractitionerID: uuid.Nil}).Permit
	}
	id, ok := PractitionerOfTopic(topic)
	if !ok {
		return false
	}
	return access.Authorize(actor, access.OpView, access.Target{PractitionerID: id}).Permit
}

// Handler upgrades HTTP connections to WebSocket calendar feeds.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler binds a handler to hub. allowedOrigins empty accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the request and subscribes the caller to its own
// calendar (practitioners) or to every calendar (administrators).
func (h *Handler) HandleConnect(c echo.Context) error {
	actor, ok := access.ActorFromContext(c.Request().Context())
	if !ok {
		return apperr.HTTPError(apperr.ErrUnauthenticated)
	}
	if !actor.Active {
		return apperr.HTTPError(apperr.ErrActorInactive)
	}

	initial := CalendarTopic(actor.ID)
	if actor.IsAdministrator() {
		initial = TopicAll
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: []string{initial},
		Send:   make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws, actor)
	return nil
}

// ProcessMessage applies a subscription request, dropping topics the actor
// may not watch.
func (h *Handler) ProcessMessage(client *Client, actor access.Actor, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		allowed := make([]string, 0, len(msg.Topics))
		for _, t := range msg.Topics {
			if CanWatch(actor, t) {
				allowed = append(allowed, t)
			}
		}
		h.hub.Subscribe(client, allowed)
	case "unsubscribe":
		h.hub.Unsubscribe(client, msg.Topics)
	}
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn, actor access.Actor) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.ProcessMessage(client, actor, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
