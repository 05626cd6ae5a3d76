package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/internal/service"
	"risksignal/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - емкость очереди рассылки; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// envelope - сериализованное сообщение и его адресат (пустой userID - всем)
type envelope struct {
	userID string
	data   []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает живую ленту dashboard: новые risk events и переходы kill-switch.
// Сообщение с UserID доставляется только клиентам этого пользователя.
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Подключить к сервисам: haltController.SetBroadcaster(hub)
// 4. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений клиентам
	broadcast chan envelope

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// Сообщения, не попавшие в очередь рассылки
	dropped atomic.Int64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	logger *utils.Logger
}

var _ service.Broadcaster = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     utils.L().WithComponent("ws"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идет без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.logger.Debug("client connected", utils.UserID(client.userID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.logger.Debug("client disconnected", zap.Int("total", total))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.userID == "" || client.userID == msg.userID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.data:
		default:
			// клиент не успевает читать
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		total := len(h.clients)
		h.mu.Unlock()
		metrics.WebSocketClients.Set(float64(total))
		h.logger.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("total", total))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	metrics.WebSocketClients.Set(0)
}

// Stop завершает Run и закрывает все соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	h.send("", message)
}

// BroadcastTo отправляет сообщение клиентам одного пользователя
func (h *Hub) BroadcastTo(userID string, message interface{}) {
	h.send(userID, message)
}

// send сериализует сообщение и ставит его в очередь без блокировки.
// Вызывается из сервисов, поэтому при заполненной очереди сообщение отбрасывается.
func (h *Hub) send(userID string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- envelope{userID: userID, data: msgCopy}:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastRiskEvent публикует новый risk event владельцу политики
func (h *Hub) BroadcastRiskEvent(userID string, event *models.RiskEvent) {
	h.BroadcastTo(userID, NewRiskEventMessage(event, userID))
}

// BroadcastHalt публикует переход kill-switch владельцу агента
func (h *Hub) BroadcastHalt(state *service.HaltState) {
	h.BroadcastTo(state.UserID, NewHaltMessage(state))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных из-за переполнения сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
