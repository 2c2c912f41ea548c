package realtime

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"

	domainauth "petadopt/internal/domain/auth"
	"petadopt/internal/infra/obs"
)

const writeTimeout = 10 * time.Second

// conn is one authenticated client. Frames are written by a single writer goroutine in
// enqueue order.
type conn struct {
	id       string
	identity domainauth.Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	cancel   context.CancelFunc

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

func newConn(id string, identity domainauth.Identity, ws *websocket.Conn, queue int, cancel context.CancelFunc) *conn {
	if queue <= 0 {
		queue = 64
	}
	if cancel == nil {
		cancel = func() {}
	}
	return &conn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

func (c *conn) userID() string { return c.identity.UserID }

// enqueue never blocks. A full queue means the client cannot keep up and it is disconnected.
func (c *conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		obs.RealtimeDroppedTotal.Inc()
		c.close(websocket.StatusPolicyViolation, "slow consumer")
		return false
	}
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
		c.cancel()
	})
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop(ping time.Duration) {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.ws.Close(c.closeCode, c.closeReason)
			return
		case payload := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.close(websocket.StatusInternalError, "write failed")
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "heartbeat timeout")
			}
		}
	}
}
