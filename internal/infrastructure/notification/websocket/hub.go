package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dreschagin/eventlogger/pkg/logger"
)

// Hub рассылает строки локальной записи подключенным WebSocket клиентам
// Реализует интерфейс port.LineMirror
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Канал для broadcast строк
	broadcast chan []byte

	// Канал для регистрации клиентов
	register chan *Client

	// Канал для удаления клиентов
	unregister chan *Client

	// Mutex для защиты clients map
	mu sync.RWMutex

	// Logger
	logger *logger.Logger
}

// NewHub создает новый WebSocket hub
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run запускает hub до отмены ctx (должен быть запущен в отдельной goroutine)
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket tail hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket tail hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client registered", "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", "total_clients", total)

		case line := <-h.broadcast:
			message := Message{Type: "line", Data: json.RawMessage(line)}
			level := lineLevel(line)

			h.mu.Lock()
			for client := range h.clients {
				if !client.accepts(level) {
					continue
				}
				select {
				case client.send <- message:
					// Строка отправлена
				default:
					// Канал клиента заполнен, закрываем соединение
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client channel full, disconnected")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastLine отправляет строку всем клиентам (реализация port.LineMirror).
// Никогда не блокирует: при заполненном канале строка отбрасывается.
func (h *Hub) BroadcastLine(line []byte) {
	if !json.Valid(line) {
		return
	}

	// LocalSink может переиспользовать буфер
	copied := make([]byte, len(line))
	copy(copied, line)

	select {
	case h.broadcast <- copied:
		// Строка отправлена в канал
	default:
		h.logger.Warn("Broadcast channel full, dropping line")
	}
}

// lineLevel достает уровень из строки LocalSink
func lineLevel(line []byte) string {
	var header struct {
		Level string `json:"lvl"`
	}
	_ = json.Unmarshal(line, &header)
	return header.Level
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Message представляет сообщение для отправки клиенту
type Message struct {
	Type string          `json:"type"` // "line"
	Data json.RawMessage `json:"data"`
}
