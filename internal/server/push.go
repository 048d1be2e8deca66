package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	Subprotocols: push.Subprotocols,
	CheckOrigin:  func(*http.Request) bool { return true },
}

// topicKinds maps push topics to the bus events that feed them.
var topicKinds = map[model.Kind]string{
	model.KindConversation: bus.KindServerConversation,
	model.KindMessage:      bus.KindServerMessage,
}

// pushSocket streams every write of one topic to a WebSocket client until
// it disconnects.
func (s *Server) pushSocket(c *gin.Context) {
	topic, err := model.ParseKind(c.Query("topic"))
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	// Subscribe before the upgrade so no write after the handshake is missed.
	events, unsub := s.bus.Subscribe(topicKinds[topic], 256)
	defer unsub()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("push upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	codec := push.CodecForSubprotocol(ws.Subprotocol())
	frameType := websocket.TextMessage
	if codec == push.MsgPack {
		frameType = websocket.BinaryMessage
	}
	logger := s.logger.With(zap.String("topic", string(topic)), zap.String("codec", codec.Name()))
	logger.Info("push client connected")

	// The read loop only drains control frames and notices the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logger.Info("push client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case evt := <-events:
			e, ok := evt.Payload.(model.Event)
			if !ok {
				continue
			}
			data, err := codec.Encode(e)
			if err != nil {
				logger.Error("encode push event", zap.Error(err))
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(frameType, data); err != nil {
				logger.Warn("push write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Warn("push ping failed", zap.Error(err))
				return
			}
		}
	}
}
