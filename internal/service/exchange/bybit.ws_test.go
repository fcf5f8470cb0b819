package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strconv"
	"testing"

	"github.com/krobus00/grid-bot/internal/entity"
)

func TestWSAuthSignature(t *testing.T) {
	client := NewBybitClient(testAPIKey, testAPISecret, BybitMainnetBaseURL)

	expires := int64(1700000000000)
	got := client.wsAuthSignature(expires)

	signStr := strconv.FormatInt(expires, 10) + testAPIKey + "5000"
	h := hmac.New(sha256.New, []byte(testAPISecret))
	h.Write([]byte(signStr))
	want := fmt.Sprintf("%x", h.Sum(nil))

	if got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestHandleOrderStreamMessage(t *testing.T) {
	client := NewBybitClient(testAPIKey, testAPISecret, BybitMainnetBaseURL)

	var updates []entity.OrderUpdate
	handler := func(ctx context.Context, update entity.OrderUpdate) {
		updates = append(updates, update)
	}

	message := []byte(`{"topic":"order.spot","data":[{"symbol":"BTCUSDT","orderId":"42","side":"Buy","orderStatus":"Filled","avgPrice":"29000","qty":"0.001"}]}`)
	if err := client.handleOrderStreamMessage(context.Background(), message, handler); err != nil {
		t.Fatalf("handleOrderStreamMessage returned error: %v", err)
	}

	if got, want := len(updates), 1; got != want {
		t.Fatalf("dispatched %d updates, want %d", got, want)
	}
	if got, want := updates[0].OrderID, "42"; got != want {
		t.Errorf("order id = %s, want %s", got, want)
	}
	if got, want := updates[0].OrderStatus, "Filled"; got != want {
		t.Errorf("order status = %s, want %s", got, want)
	}
}

func TestHandleOrderStreamMessageIgnoresOtherTopics(t *testing.T) {
	client := NewBybitClient(testAPIKey, testAPISecret, BybitMainnetBaseURL)

	dispatched := false
	handler := func(ctx context.Context, update entity.OrderUpdate) {
		dispatched = true
	}

	messages := [][]byte{
		[]byte(`{"op":"pong"}`),
		[]byte(`{"topic":"execution.spot","data":[{"symbol":"BTCUSDT"}]}`),
		[]byte(`{"success":true,"ret_msg":"","op":"subscribe"}`),
	}

	for _, message := range messages {
		if err := client.handleOrderStreamMessage(context.Background(), message, handler); err != nil {
			t.Errorf("handleOrderStreamMessage(%s) returned error: %v", message, err)
		}
	}

	if dispatched {
		t.Error("handler fired for a non-order message")
	}
}

func TestHandleOrderStreamMessageReportsErrors(t *testing.T) {
	client := NewBybitClient(testAPIKey, testAPISecret, BybitMainnetBaseURL)

	message := []byte(`{"success":false,"ret_msg":"auth failed","op":"auth"}`)
	if err := client.handleOrderStreamMessage(context.Background(), message, nil); err == nil {
		t.Fatal("expected error for failed operation ack")
	}
}
