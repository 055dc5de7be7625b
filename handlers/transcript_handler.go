package handlers

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"axio-backend/models"
	"axio-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is open in development; origin policy belongs to the
	// reverse proxy in deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TurnMessage is one inbound transcript segment from a feed client
type TurnMessage struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// TranscriptHandler manages the per-session websocket transcript feeds.
// Every turn accepted from one subscriber is broadcast to all
// subscribers of the same session.
type TranscriptHandler struct {
	transcriptService *service.TranscriptService

	mu          sync.Mutex
	subscribers map[string]map[*websocket.Conn]bool
}

// NewTranscriptHandler creates a new transcript handler
func NewTranscriptHandler(transcriptService *service.TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{
		transcriptService: transcriptService,
		subscribers:       make(map[string]map[*websocket.Conn]bool),
	}
}

// Feed handles GET /ws/transcript/:session_id
func (h *TranscriptHandler) Feed(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade transcript feed for session %s: %v", sessionID, err)
		return
	}

	h.subscribe(sessionID, conn)
	defer h.unsubscribe(sessionID, conn)

	for {
		var msg TurnMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Transcript feed error for session %s: %v", sessionID, err)
			}
			return
		}

		msg.Speaker = strings.TrimSpace(msg.Speaker)
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Speaker == "" || msg.Text == "" {
			continue
		}

		turn, err := h.transcriptService.Append(c.Request.Context(), sessionID, msg.Speaker, msg.Text)
		if err != nil {
			log.Printf("Failed to append turn for session %s: %v", sessionID, err)
			continue
		}

		h.broadcast(sessionID, turn)
	}
}

func (h *TranscriptHandler) subscribe(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sessionID] == nil {
		h.subscribers[sessionID] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[sessionID][conn] = true
}

func (h *TranscriptHandler) unsubscribe(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.subscribers[sessionID], conn)
	if len(h.subscribers[sessionID]) == 0 {
		delete(h.subscribers, sessionID)
	}
	h.mu.Unlock()
	conn.Close()
}

// broadcast sends the appended turn to every session subscriber,
// including the sender, so all feeds converge on the same transcript
func (h *TranscriptHandler) broadcast(sessionID string, turn models.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subscribers[sessionID] {
		if err := conn.WriteJSON(turn); err != nil {
			conn.Close()
			delete(h.subscribers[sessionID], conn)
		}
	}
}
