package stratum

import (
	"sync"

	"go.uber.org/zap"
)

// Request is an outbound command envelope.
type Request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Message is any inbound object: a notification when Method is set, a
// response otherwise.
type Message struct {
	ID     *uint64       `json:"id"`
	Method string        `json:"method,omitempty"`
	Params []interface{} `json:"params,omitempty"`
	Result interface{}   `json:"result,omitempty"`
	Error  interface{}   `json:"error,omitempty"`
}

// NotificationHandler handles a server initiated message.
type NotificationHandler func(params []interface{})

// ResponseHandler handles the reply to a call. method is empty when the id
// does not belong to an outstanding call.
type ResponseHandler func(method string, msg *Message)

// RPCClient tracks the calls made over a Conn and routes what comes back.
type RPCClient struct {
	conn   *Conn
	logger *zap.Logger

	mu                   sync.Mutex
	seq                  uint64
	calls                map[uint64]string
	notificationHandlers map[string]NotificationHandler
	responseHandler      ResponseHandler
}

func NewRPCClient(conn *Conn, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		conn:                 conn,
		logger:               logger,
		calls:                make(map[uint64]string),
		notificationHandlers: make(map[string]NotificationHandler),
	}
}

// SetNotificationHandler registers the handler for a server method.
func (c *RPCClient) SetNotificationHandler(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.notificationHandlers[method] = handler
	c.mu.Unlock()
}

func (c *RPCClient) SetResponseHandler(handler ResponseHandler) {
	c.mu.Lock()
	c.responseHandler = handler
	c.mu.Unlock()
}

// Call sends a request and returns its id without waiting for the reply.
func (c *RPCClient) Call(method string, params []interface{}) (uint64, error) {
	if params == nil {
		params = []interface{}{}
	}
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.calls[id] = method
	c.mu.Unlock()

	if err := c.conn.WriteJSON(Request{ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// Listen reads and dispatches messages until the connection fails.
// Malformed lines are logged and skipped.
func (c *RPCClient) Listen() error {
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			return err
		}
		var msg Message
		if err := Unmarshal(line, &msg); err != nil {
			c.logger.Warn("Malformed message", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *RPCClient) dispatch(msg *Message) {
	if msg.Method != "" {
		c.mu.Lock()
		handler := c.notificationHandlers[msg.Method]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("Unhandled notification", zap.String("method", msg.Method))
			return
		}
		handler(msg.Params)
		return
	}
	if msg.ID == nil {
		return
	}
	c.mu.Lock()
	method := c.calls[*msg.ID]
	delete(c.calls, *msg.ID)
	handler := c.responseHandler
	c.mu.Unlock()
	if handler != nil {
		handler(method, msg)
	}
}

func (c *RPCClient) Close() error {
	return c.conn.Close()
}
