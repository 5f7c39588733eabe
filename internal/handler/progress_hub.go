// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"course-intake/internal/middleware"
	"course-intake/internal/model"
	"course-intake/internal/taskqueue"
	"course-intake/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	messageUploadProgress = "upload_progress"
	messageTask           = "task"

	clientSendBuffer = 32
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// hubMessage 是推送给浏览器的消息信封。
type hubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type hubClient struct {
	ownerID uint
	send    chan []byte
}

// ProgressHub 把上传进度和任务状态推送给同一用户的所有 websocket 连接。
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewProgressHub 创建一个新的 ProgressHub。
func NewProgressHub() *ProgressHub {
	return &ProgressHub{clients: make(map[*hubClient]struct{})}
}

// ClientCount 返回当前的连接数。
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishProgress 推送某个用户的上传进度快照。
func (h *ProgressHub) PublishProgress(ownerID uint, snapshot []model.UploadProgress) {
	h.broadcast(ownerID, hubMessage{Type: messageUploadProgress, Data: snapshot})
}

// OnTaskUpdate 实现 taskqueue.EventSink，只推送给任务所属的用户。
func (h *ProgressHub) OnTaskUpdate(t taskqueue.Task) {
	if t.OwnerID == 0 {
		return
	}
	h.broadcast(t.OwnerID, hubMessage{Type: messageTask, Data: t})
}

func (h *ProgressHub) broadcast(ownerID uint, msg hubMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("[ProgressHub] 序列化消息失败, type: %s, error: %v", msg.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.ownerID != ownerID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// 慢连接直接丢弃消息，下一次快照会覆盖。
			log.Warnf("[ProgressHub] 连接发送缓冲已满, 丢弃消息, 用户ID: %d", ownerID)
		}
	}
}

func (h *ProgressHub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *ProgressHub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Handle 处理一个传入的 WebSocket 连接。路由需挂在认证中间件之后。
func (h *ProgressHub) Handle(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	if ownerID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ProgressHub] WebSocket 升级失败", err)
		return
	}

	client := &hubClient{ownerID: ownerID, send: make(chan []byte, clientSendBuffer)}
	h.register(client)
	log.Infof("[ProgressHub] WebSocket 连接已建立，用户ID: %d", ownerID)

	done := make(chan struct{})
	go h.writePump(conn, client, done)

	// 读循环只用于感知连接关闭和处理 pong。
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[ProgressHub] 连接异常关闭, 用户ID: %d, error: %v", ownerID, err)
			}
			break
		}
	}

	h.unregister(client)
	<-done
	log.Infof("[ProgressHub] WebSocket 连接已断开，用户ID: %d", ownerID)
}

func (h *ProgressHub) writePump(conn *websocket.Conn, client *hubClient, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()
	for {
		select {
		case payload, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warnf("[ProgressHub] 写入消息失败, 用户ID: %d, error: %v", client.ownerID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
