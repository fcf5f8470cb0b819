package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	bybitWSReconnectMinDelay = 1 * time.Second
	bybitWSReconnectMaxDelay = 15 * time.Second
	bybitWSReconnectFactor   = 2.0
	bybitWSPingInterval      = 20 * time.Second
	bybitWSAuthTimeout       = 10 * time.Second
)

type bybitWSMessage struct {
	Op      string          `json:"op,omitempty"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wsAuthSignature signs the private stream handshake:
// HMAC-SHA256 over expires + apiKey + recvWindow.
func (e *BybitExchange) wsAuthSignature(expires int64) string {
	signStr := strconv.FormatInt(expires, 10) + e.apiKey + strconv.FormatInt(e.recvWindow, 10)
	return hmacSHA256Hex(e.apiSecret, signStr)
}

// SubscribeOrderUpdates connects to the private order stream and dispatches
// every order update to handler. The connection is kept alive with op ping
// frames and re-established with exponential backoff and jitter until ctx
// is canceled.
func (e *BybitExchange) SubscribeOrderUpdates(ctx context.Context, handler func(ctx context.Context, update entity.OrderUpdate)) error {
	if e.apiKey == "" || e.apiSecret == "" {
		return fmt.Errorf("bybit credentials are missing in config")
	}

	wsHost, err := url.Parse(e.wsURL)
	if err != nil {
		return fmt.Errorf("invalid bybit ws url: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		logrus.Infof("connecting to %s", wsHost.String())
		conn, _, err := websocket.DefaultDialer.Dial(wsHost.String(), nil)
		if err != nil {
			wait := bybitWSReconnectDelay(attempt, rng)
			attempt++
			logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warnf("bybit ws dial failed: %v", err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := e.wsHandshake(conn); err != nil {
			conn.Close()
			wait := bybitWSReconnectDelay(attempt, rng)
			attempt++
			logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warnf("bybit ws handshake failed: %v", err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		attempt = 0
		logrus.Info("bybit private stream connected, order updates subscribed")

		stopPing := make(chan struct{})
		go func(c *websocket.Conn) {
			ticker := time.NewTicker(bybitWSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if err := c.WriteJSON(map[string]string{"op": "ping"}); err != nil {
						logrus.Error(err)
						return
					}
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				}
			}
		}(conn)

		ctxDone := make(chan struct{})
		go func(c *websocket.Conn) {
			select {
			case <-ctx.Done():
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = c.Close()
			case <-ctxDone:
			}
		}(conn)

		readErr := false
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					close(stopPing)
					close(ctxDone)
					return nil
				}

				readErr = true
				logrus.Errorf("bybit ws read failed: %v", err)
				break
			}

			if err := e.handleOrderStreamMessage(ctx, message, handler); err != nil {
				logrus.Errorf("bybit ws handle message failed: %v", err)
				continue
			}
		}

		close(stopPing)
		close(ctxDone)
		_ = conn.Close()

		if !readErr {
			continue
		}

		wait := bybitWSReconnectDelay(attempt, rng)
		attempt++
		logrus.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warn("reconnecting bybit ws")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// wsHandshake authenticates and subscribes the private order and execution
// topics. Both operations expect an acknowledgement frame with success=true.
func (e *BybitExchange) wsHandshake(conn *websocket.Conn) error {
	expires := time.Now().UnixMilli()

	authMessage := map[string]any{
		"op":   "auth",
		"args": []any{e.apiKey, expires, e.wsAuthSignature(expires), e.recvWindow},
	}

	if err := e.wsRequest(conn, authMessage); err != nil {
		return fmt.Errorf("auth failed: %w", err)
	}

	subscribeMessage := map[string]any{
		"op":   "subscribe",
		"args": []string{"order.spot", "execution.spot"},
	}

	if err := e.wsRequest(conn, subscribeMessage); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	return nil
}

func (e *BybitExchange) wsRequest(conn *websocket.Conn, message map[string]any) error {
	if err := conn.WriteJSON(message); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(bybitWSAuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	var resp bybitWSMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}

	if resp.Success == nil || !*resp.Success {
		retMsg := resp.RetMsg
		if retMsg == "" {
			retMsg = "unknown error"
		}
		return fmt.Errorf("%s", retMsg)
	}

	return nil
}

func (e *BybitExchange) handleOrderStreamMessage(ctx context.Context, message []byte, handler func(ctx context.Context, update entity.OrderUpdate)) error {
	var payload bybitWSMessage
	if err := json.Unmarshal(message, &payload); err != nil {
		return err
	}

	// pong and subscription acks carry no data
	if payload.Op == "ping" || payload.Op == "pong" {
		return nil
	}

	if payload.Success != nil && !*payload.Success {
		return fmt.Errorf("bybit ws error: %s", payload.RetMsg)
	}

	if payload.Topic == "" || len(payload.Data) == 0 {
		return nil
	}

	if !isOrderTopic(payload.Topic) {
		return nil
	}

	var updates []entity.OrderUpdate
	if err := json.Unmarshal(payload.Data, &updates); err != nil {
		return err
	}

	if handler == nil {
		return nil
	}

	for _, update := range updates {
		handler(ctx, update)
	}

	return nil
}

func isOrderTopic(topic string) bool {
	return topic == "order.spot" || topic == "order"
}

func bybitWSReconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(bybitWSReconnectMinDelay) * math.Pow(bybitWSReconnectFactor, float64(attempt))
	if backoff > float64(bybitWSReconnectMaxDelay) {
		backoff = float64(bybitWSReconnectMaxDelay)
	}

	base := time.Duration(backoff)
	jitterWindow := bybitWSReconnectMaxDelay - bybitWSReconnectMinDelay
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > bybitWSReconnectMaxDelay {
		return bybitWSReconnectMaxDelay
	}

	return result
}
