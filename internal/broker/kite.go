// Package broker provides trading API clients for executing futures and
// options trades. It includes the Kite Connect v3 client implementation
// used for NFO/MCX monthly futures.
package broker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// defaultKiteBaseURL is the production Kite Connect endpoint.
const defaultKiteBaseURL = "https://api.kite.trade"

// kiteVersion is the API version header required on every request.
const kiteVersion = "3"

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// KiteAPI is an HTTP client for the Kite Connect v3 REST API.
type KiteAPI struct {
	client      *http.Client
	apiKey      string
	accessToken string
	baseURL     string
	timeout     time.Duration
}

// NewKiteAPI creates a new KiteAPI client with default settings.
func NewKiteAPI(apiKey, accessToken string) *KiteAPI {
	return NewKiteAPIWithBaseURL(apiKey, accessToken, "")
}

// NewKiteAPIWithBaseURL creates a new KiteAPI client with an optional
// custom baseURL (tests, mock servers).
func NewKiteAPIWithBaseURL(apiKey, accessToken, baseURL string) *KiteAPI {
	if baseURL == "" {
		baseURL = defaultKiteBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	const defaultTimeout = 10 * time.Second
	return &KiteAPI{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: defaultTimeout},
		timeout:     defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (k *KiteAPI) WithHTTPClient(c *http.Client) *KiteAPI {
	if c != nil {
		k.client = c
	}
	return k
}

// WithTimeout sets the HTTP client timeout duration.
func (k *KiteAPI) WithTimeout(timeout time.Duration) *KiteAPI {
	k.timeout = timeout
	if k.client != nil {
		k.client.Timeout = timeout
	}
	return k
}

// ============ API Response Structures ============

// envelope is the standard Kite Connect JSON response wrapper.
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

type positionsData struct {
	Net []struct {
		Exchange      string `json:"exchange"`
		TradingSymbol string `json:"tradingsymbol"`
		Quantity      int    `json:"quantity"`
	} `json:"net"`
}

type ltpData map[string]struct {
	LastPrice float64 `json:"last_price"`
}

type quoteData map[string]struct {
	LastPrice float64 `json:"last_price"`
	Depth     struct {
		Buy []struct {
			Price    float64 `json:"price"`
			Quantity int     `json:"quantity"`
		} `json:"buy"`
		Sell []struct {
			Price    float64 `json:"price"`
			Quantity int     `json:"quantity"`
		} `json:"sell"`
	} `json:"depth"`
}

type orderIDData struct {
	OrderID string `json:"order_id"`
}

type orderHistoryEntry struct {
	OrderID         string  `json:"order_id"`
	Status          string  `json:"status"`
	FilledQuantity  int     `json:"filled_quantity"`
	PendingQuantity int     `json:"pending_quantity"`
	AveragePrice    float64 `json:"average_price"`
}

// ============ API Methods ============

// ListInstruments downloads and parses the instrument master for an
// exchange segment. The endpoint serves a CSV dump, not JSON.
func (k *KiteAPI) ListInstruments(ctx context.Context, market Market) ([]Instrument, error) {
	endpoint := fmt.Sprintf("%s/instruments/%s", k.baseURL, market)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	k.setHeaders(req)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	return parseInstrumentCSV(resp.Body, market)
}

// parseInstrumentCSV parses the Kite instrument dump. Columns:
// instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,
// strike,tick_size,lot_size,instrument_type,segment,exchange
func parseInstrumentCSV(r io.Reader, market Market) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading instrument header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"tradingsymbol", "expiry", "strike", "lot_size", "instrument_type"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instrument dump missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	var instruments []Instrument
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading instrument row: %w", err)
		}

		inst := Instrument{
			Symbol:         field(rec, "tradingsymbol"),
			Market:         market,
			InstrumentType: field(rec, "instrument_type"),
			UnderlyingName: field(rec, "name"),
		}
		if inst.Symbol == "" {
			continue
		}
		if v := field(rec, "expiry"); v != "" {
			if exp, err := time.Parse("2006-01-02", v); err == nil {
				inst.Expiry = exp
			}
		}
		if v := field(rec, "strike"); v != "" {
			inst.Strike, _ = strconv.ParseFloat(v, 64)
		}
		if v := field(rec, "tick_size"); v != "" {
			inst.TickSize, _ = strconv.ParseFloat(v, 64)
		}
		if v := field(rec, "lot_size"); v != "" {
			inst.LotSize, _ = strconv.Atoi(v)
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// NetPositions retrieves the account's net positions.
func (k *KiteAPI) NetPositions(ctx context.Context) ([]PositionItem, error) {
	endpoint := k.baseURL + "/portfolio/positions"

	var data positionsData
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return nil, err
	}

	items := make([]PositionItem, 0, len(data.Net))
	for _, p := range data.Net {
		items = append(items, PositionItem{
			Market:   Market(p.Exchange),
			Symbol:   p.TradingSymbol,
			Quantity: p.Quantity,
		})
	}
	return items, nil
}

// LastTradedPrice retrieves the LTP for a single instrument.
func (k *KiteAPI) LastTradedPrice(ctx context.Context, market Market, symbol string) (float64, error) {
	key := fmt.Sprintf("%s:%s", market, symbol)
	params := url.Values{}
	params.Set("i", key)
	endpoint := k.baseURL + "/quote/ltp?" + params.Encode()

	var data ltpData
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return 0, err
	}

	entry, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("no LTP returned for %s", key)
	}
	return entry.LastPrice, nil
}

// Quote retrieves the full market quote including best bid/ask depth.
func (k *KiteAPI) Quote(ctx context.Context, market Market, symbol string) (*QuoteItem, error) {
	key := fmt.Sprintf("%s:%s", market, symbol)
	params := url.Values{}
	params.Set("i", key)
	endpoint := k.baseURL + "/quote?" + params.Encode()

	var data quoteData
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return nil, err
	}

	entry, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("no quote returned for %s", key)
	}

	quote := &QuoteItem{Symbol: symbol, Last: entry.LastPrice}
	if len(entry.Depth.Buy) > 0 {
		quote.BestBid = entry.Depth.Buy[0].Price
	}
	if len(entry.Depth.Sell) > 0 {
		quote.BestAsk = entry.Depth.Sell[0].Price
	}
	return quote, nil
}

// PlaceOrder places a regular-variety NRML order and returns the order ID.
func (k *KiteAPI) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	if p.Quantity <= 0 {
		return "", fmt.Errorf("order quantity must be > 0, got %d", p.Quantity)
	}

	params := url.Values{}
	params.Set("exchange", string(p.Market))
	params.Set("tradingsymbol", p.Symbol)
	params.Set("transaction_type", string(p.Side))
	params.Set("quantity", strconv.Itoa(p.Quantity))
	params.Set("product", "NRML")
	params.Set("order_type", string(p.Type))
	params.Set("validity", "DAY")
	if p.Type == OrderLimit {
		params.Set("price", strconv.FormatFloat(p.Price, 'f', 2, 64))
	}
	if p.Tag != "" {
		params.Set("tag", p.Tag)
	}

	endpoint := k.baseURL + "/orders/regular"
	var data orderIDData
	if err := k.makeRequestCtx(ctx, http.MethodPost, endpoint, params, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("order accepted but no order_id returned")
	}
	return data.OrderID, nil
}

// OrderStatus retrieves the latest state of an order. The Kite API
// returns the full order history; the last entry is the current state.
func (k *KiteAPI) OrderStatus(ctx context.Context, orderID string) (*OrderState, error) {
	endpoint := fmt.Sprintf("%s/orders/%s", k.baseURL, url.PathEscape(orderID))

	var history []orderHistoryEntry
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &history); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no order history for %s", orderID)
	}

	last := history[len(history)-1]
	return &OrderState{
		OrderID:         last.OrderID,
		Status:          strings.ToUpper(last.Status),
		FilledQuantity:  last.FilledQuantity,
		PendingQuantity: last.PendingQuantity,
		AveragePrice:    last.AveragePrice,
	}, nil
}

// CancelOrder cancels a pending regular-variety order.
func (k *KiteAPI) CancelOrder(ctx context.Context, orderID string) error {
	endpoint := fmt.Sprintf("%s/orders/regular/%s", k.baseURL, url.PathEscape(orderID))
	var data orderIDData
	return k.makeRequestCtx(ctx, http.MethodDelete, endpoint, nil, &data)
}

// ============ Request Plumbing ============

func (k *KiteAPI) setHeaders(req *http.Request) {
	req.Header.Add("Authorization", "token "+k.apiKey+":"+k.accessToken)
	req.Header.Add("X-Kite-Version", kiteVersion)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "futroll/1.0 (+kite)")
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		// Log error but don't fail the operation
		log.Printf("Failed to close response body: %v", err)
	}
}

// makeRequestCtx makes an HTTP request, unwraps the Kite envelope, and
// decodes the data payload into out.
func (k *KiteAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, out interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}
	k.setHeaders(req)

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	var env envelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&env); err != nil && err != io.EOF {
		return err
	}
	if env.Status != "success" {
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s: %s", env.ErrorType, env.Message)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
