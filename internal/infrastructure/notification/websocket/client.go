package websocket

import (
	"time"

	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
	"github.com/dreschagin/eventlogger/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	// Время ожидания для write операций
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал ping сообщений (должен быть меньше pongWait)
	pingPeriod = 54 * time.Second

	// Клиент присылает только control frames
	maxMessageSize = 512

	// Размер очереди строк на клиента
	sendBuffer = 256
)

// Client представляет подписчика live tail
type Client struct {
	conn     *websocket.Conn
	hub      *Hub
	send     chan Message
	minLevel valueobject.Level
	logger   *logger.Logger
}

// NewClient создает клиента, получающего строки уровня minLevel и выше
func NewClient(hub *Hub, conn *websocket.Conn, minLevel valueobject.Level, logger *logger.Logger) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		send:     make(chan Message, sendBuffer),
		minLevel: minLevel,
		logger:   logger,
	}
}

// accepts сообщает, нужна ли клиенту строка уровня level.
// Строки с нераспознанным уровнем получают все.
func (c *Client) accepts(level string) bool {
	parsed, err := valueobject.ParseLevel(level)
	if err != nil {
		return true
	}
	return valueobject.ShouldLog(parsed, c.minLevel)
}

// ReadPump читает control frames, пока соединение открыто, и снимает клиента с hub при разрыве
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("WebSocket set read deadline error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", err)
			}
			return
		}
	}
}

// WritePump отправляет строки клиенту и держит соединение ping сообщениями
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub закрыл канал
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("WebSocket write error", err)
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) closeConn() {
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("WebSocket close error", "error", err.Error())
	}
}
