package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/krobus00/grid-bot/internal/config"
	"github.com/krobus00/grid-bot/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	BybitMainnetBaseURL = "https://api.bybit.com"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"

	bybitCategorySpot      = "spot"
	bybitRequestTimeout    = 10 * time.Second
	bybitMaxRetries        = 5
	bybitRetryMinDelay     = 1 * time.Second
	bybitRetryMaxDelay     = 60 * time.Second
	bybitRetryFactor       = 2.0
	bybitDefaultRecvWindow = int64(5000)
)

// ret codes worth retrying: 10006 rate limit, 10016 internal service error
var bybitRetryableRetCodes = map[int]struct{}{
	10006: {},
	10016: {},
}

// APIError is an error response from the Bybit V5 API.
type APIError struct {
	StatusCode int
	RetCode    int
	RetMsg     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error (code: %d, status: %d): %s", e.RetCode, e.StatusCode, e.RetMsg)
}

func isRetryableAPIError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	_, ok := bybitRetryableRetCodes[apiErr.RetCode]
	return ok
}

type BybitExchange struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	wsURL      string
	recvWindow int64
	httpClient *http.Client
}

func InitBybitExchange(cfg *config.EnvConfig) *BybitExchange {
	recvWindow := cfg.BybitRecvWindow
	if recvWindow <= 0 || recvWindow > 60000 {
		recvWindow = bybitDefaultRecvWindow
	}

	baseURL := strings.TrimSpace(cfg.BybitBaseURL)
	if baseURL == "" {
		baseURL = BybitMainnetBaseURL
	}

	wsURL := strings.TrimSpace(cfg.BybitWSURL)
	if wsURL == "" {
		wsURL = "wss://stream.bybit.com/v5/private"
	}

	newExchange := &BybitExchange{
		apiKey:     strings.TrimSpace(cfg.BybitAPIKey),
		apiSecret:  strings.TrimSpace(cfg.BybitAPISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		wsURL:      wsURL,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: bybitRequestTimeout},
	}

	RegisterExchange(entity.ExchangeBybit, newExchange)

	return newExchange
}

// NewBybitClient builds a client for one-off use against an explicit base
// URL, such as the credential check against testnet and mainnet.
func NewBybitClient(apiKey, apiSecret, baseURL string) *BybitExchange {
	return &BybitExchange{
		apiKey:     strings.TrimSpace(apiKey),
		apiSecret:  strings.TrimSpace(apiSecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: bybitDefaultRecvWindow,
		httpClient: &http.Client{Timeout: bybitRequestTimeout},
	}
}

// sign builds the V5 request signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + payload, where payload is the encoded
// query string for GET requests and the raw JSON body for POST requests.
func (e *BybitExchange) sign(timestamp int64, payload string) string {
	signStr := strconv.FormatInt(timestamp, 10) + e.apiKey + strconv.FormatInt(e.recvWindow, 10) + payload
	return hmacSHA256Hex(e.apiSecret, signStr)
}

func (e *BybitExchange) authHeaders(req *http.Request, timestamp int64, payload string) {
	req.Header.Set("X-BAPI-API-KEY", e.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", e.sign(timestamp, payload))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.FormatInt(e.recvWindow, 10))
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// request performs one signed call and retries with exponential backoff and
// jitter when the API answers with a retryable ret code.
func (e *BybitExchange) request(ctx context.Context, method, endpoint string, query url.Values, body any) (json.RawMessage, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error

	for attempt := 0; attempt < bybitMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.doRequest(ctx, method, endpoint, query, body)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryableAPIError(err) || attempt == bybitMaxRetries-1 {
			break
		}

		wait := bybitRetryDelay(attempt, rng)
		logrus.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"attempt":  attempt + 1,
			"retry_in": wait.String(),
		}).Warnf("bybit request failed: %v", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (e *BybitExchange) doRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (json.RawMessage, error) {
	timestamp := time.Now().UnixMilli()

	var (
		req *http.Request
		err error
	)

	switch method {
	case http.MethodGet:
		payload := ""
		if query != nil {
			payload = query.Encode()
		}

		requestURL := e.baseURL + endpoint
		if payload != "" {
			requestURL += "?" + payload
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}

		e.authHeaders(req, timestamp, payload)
	case http.MethodPost:
		rawBody, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return nil, marshalErr
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, bytes.NewReader(rawBody))
		if err != nil {
			return nil, err
		}

		e.authHeaders(req, timestamp, string(rawBody))
		req.Header.Set("Content-Type", "application/json")
	default:
		return nil, fmt.Errorf("unsupported http method: %s", method)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit request failed: %w", err)
	}
	defer resp.Body.Close()

	rawResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope bybitEnvelope
	if err := json.Unmarshal(rawResp, &envelope); err != nil {
		return nil, fmt.Errorf("bybit response parse failed: status=%d body=%s", resp.StatusCode, string(rawResp))
	}

	if resp.StatusCode != http.StatusOK || envelope.RetCode != 0 {
		retMsg := envelope.RetMsg
		if retMsg == "" {
			retMsg = "unknown error"
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetCode:    envelope.RetCode,
			RetMsg:     retMsg,
		}
	}

	return envelope.Result, nil
}

func (e *BybitExchange) GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error) {
	query := url.Values{}
	query.Set("category", bybitCategorySpot)
	query.Set("symbol", symbol)

	result, err := e.request(ctx, http.MethodGet, "/v5/market/tickers", query, nil)
	if err != nil {
		return nil, err
	}

	var tickersResp struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
		} `json:"list"`
	}

	if err := json.Unmarshal(result, &tickersResp); err != nil {
		return nil, fmt.Errorf("bybit ticker parse failed: %w", err)
	}

	if len(tickersResp.List) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, RetMsg: fmt.Sprintf("symbol %s not found", symbol)}
	}

	raw := tickersResp.List[0]

	lastPrice, err := decimal.NewFromString(raw.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid last price: %w", err)
	}

	highPrice, err := bybitDecimalOrZero(raw.HighPrice24h)
	if err != nil {
		return nil, fmt.Errorf("invalid 24h high price: %w", err)
	}

	lowPrice, err := bybitDecimalOrZero(raw.LowPrice24h)
	if err != nil {
		return nil, fmt.Errorf("invalid 24h low price: %w", err)
	}

	return &entity.Ticker{
		Symbol:       raw.Symbol,
		LastPrice:    lastPrice,
		HighPrice24h: highPrice,
		LowPrice24h:  lowPrice,
	}, nil
}

func (e *BybitExchange) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.PlacedOrder, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if e.apiKey == "" || e.apiSecret == "" {
		return nil, fmt.Errorf("bybit credentials are missing in config")
	}

	timeInForce := order.TimeInForce
	if timeInForce == "" {
		timeInForce = "GTC"
	}

	body := map[string]any{
		"category":    bybitCategorySpot,
		"symbol":      order.Symbol,
		"side":        string(order.Side),
		"orderType":   string(order.Type),
		"qty":         order.Qty.String(),
		"timeInForce": timeInForce,
	}

	if order.Type == entity.OrderTypeLimit {
		body["price"] = order.Price.String()
	}

	if strings.TrimSpace(order.OrderLinkID) != "" {
		body["orderLinkId"] = strings.TrimSpace(order.OrderLinkID)
	}

	result, err := e.request(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		return nil, err
	}

	var placeResp struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}

	if err := json.Unmarshal(result, &placeResp); err != nil {
		return nil, fmt.Errorf("bybit place order parse failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"symbol":        order.Symbol,
		"side":          order.Side,
		"type":          order.Type,
		"price":         order.Price.String(),
		"qty":           order.Qty.String(),
		"order_id":      placeResp.OrderID,
		"order_link_id": placeResp.OrderLinkID,
	}).Info("order placed")

	return &entity.PlacedOrder{
		OrderID:     placeResp.OrderID,
		OrderLinkID: placeResp.OrderLinkID,
	}, nil
}

func (e *BybitExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("bybit cancel order requires an order id")
	}

	body := map[string]any{
		"category": bybitCategorySpot,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	_, err := e.request(ctx, http.MethodPost, "/v5/order/cancel", nil, body)
	return err
}

func (e *BybitExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]any{
		"category": bybitCategorySpot,
		"symbol":   symbol,
	}

	_, err := e.request(ctx, http.MethodPost, "/v5/order/cancel-all", nil, body)
	return err
}

func (e *BybitExchange) GetOpenOrders(ctx context.Context, symbol string) ([]entity.OrderUpdate, error) {
	query := url.Values{}
	query.Set("category", bybitCategorySpot)
	query.Set("symbol", symbol)

	result, err := e.request(ctx, http.MethodGet, "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}

	var ordersResp struct {
		List []entity.OrderUpdate `json:"list"`
	}

	if err := json.Unmarshal(result, &ordersResp); err != nil {
		return nil, fmt.Errorf("bybit open orders parse failed: %w", err)
	}

	return ordersResp.List, nil
}

type bybitWalletCoin struct {
	Coin          string `json:"coin"`
	WalletBalance string `json:"walletBalance"`
}

func (e *BybitExchange) getWalletBalance(ctx context.Context, accountType string) ([]bybitWalletCoin, error) {
	query := url.Values{}
	query.Set("accountType", accountType)

	result, err := e.request(ctx, http.MethodGet, "/v5/account/wallet-balance", query, nil)
	if err != nil {
		return nil, err
	}

	var balanceResp struct {
		List []struct {
			Coin []bybitWalletCoin `json:"coin"`
		} `json:"list"`
	}

	if err := json.Unmarshal(result, &balanceResp); err != nil {
		return nil, fmt.Errorf("bybit wallet balance parse failed: %w", err)
	}

	if len(balanceResp.List) == 0 {
		return nil, nil
	}

	return balanceResp.List[0].Coin, nil
}

// ValidateCredentials probes the wallet-balance endpoint to check whether
// the configured key pair is accepted. The returned message names any
// non-empty balances.
func (e *BybitExchange) ValidateCredentials(ctx context.Context) (bool, string) {
	if e.apiKey == "" || e.apiSecret == "" {
		return false, "api key or secret is empty"
	}

	coins, err := e.getWalletBalance(ctx, "UNIFIED")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return false, fmt.Sprintf("rejected: retCode=%d %s", apiErr.RetCode, apiErr.RetMsg)
		}

		return false, fmt.Sprintf("request failed: %v", err)
	}

	balances := make([]string, 0, len(coins))
	for _, coin := range coins {
		balance, err := bybitDecimalOrZero(coin.WalletBalance)
		if err != nil || !balance.GreaterThan(decimal.Zero) {
			continue
		}

		balances = append(balances, fmt.Sprintf("%s: %s", coin.Coin, balance.String()))
	}

	if len(balances) == 0 {
		return true, "keys are valid, wallet is empty"
	}

	return true, "keys are valid, balance: " + strings.Join(balances, ", ")
}

func bybitDecimalOrZero(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

func bybitRetryDelay(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(bybitRetryMinDelay) * math.Pow(bybitRetryFactor, float64(attempt))
	if backoff > float64(bybitRetryMaxDelay) {
		backoff = float64(bybitRetryMaxDelay)
	}

	base := time.Duration(backoff)
	jitterWindow := bybitRetryMaxDelay - bybitRetryMinDelay
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > bybitRetryMaxDelay {
		return bybitRetryMaxDelay
	}

	return result
}

func hmacSHA256Hex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
