package binance

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trady/internal/core"
	"trady/internal/exchange"
)

var btc = core.NewSymbol("BTC", "USDT")

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	APIKey string
}

// fakeAPI routes requests by path and records them in order.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeAPI(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{routes: routes}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c := NewClientWithOptions(Options{
		APIKey:       "key",
		APISecret:    "secret",
		RestBaseURL:  srv.URL + "/fapi/",
		RecvWindowMs: 5000,
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return api, c
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	a.mu.Lock()
	a.requests = append(a.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Form:   form,
		APIKey: r.Header.Get("X-MBX-APIKEY"),
	})
	a.mu.Unlock()
	route, ok := a.routes[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	route(w, r)
}

func (a *fakeAPI) recorded() []recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedRequest(nil), a.requests...)
}

func respond(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func respondStatus(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const klinesBody = `[
  [1704067200000, "100.0", "110.5", "95.0", "105.0", "12.5", 1704067259999, "1300.75", 42, "6.1", "800.25", "0"],
  [1704067260000, "105.0", "106.0", "104.0", "104.5", "3.0", 1704067319999, "300", 10, "1.0", "100", "0"]
]`

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(`{"code":-4046,"msg":"No need to change margin type."}`))
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("parseAPIError() type = %T, want APIError", err)
	}
	if apiErr.Code != -4046 || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("apiErr = %+v, want code -4046 status 400", apiErr)
	}
	if !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("errors.Is(APIError, ErrUpstream) = false")
	}
	if !IsAPIErrorCode(err, -1000, -4046) {
		t.Fatalf("IsAPIErrorCode() = false")
	}

	err = parseAPIError(http.StatusBadRequest, []byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	if !errors.Is(err, core.ErrUnknownSymbol) || !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("invalid symbol error = %v, want unknown symbol and upstream", err)
	}

	err = parseAPIError(http.StatusBadGateway, []byte("bad gateway"))
	var httpErr HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway {
		t.Fatalf("parseAPIError(non-json) = %v, want HTTPError 502", err)
	}
	if !errors.Is(err, core.ErrUpstream) {
		t.Fatalf("errors.Is(HTTPError, ErrUpstream) = false")
	}
	if _, ok := AsAPIError(err); ok {
		t.Fatalf("AsAPIError(HTTPError) = true")
	}
}

func TestCandlesticksPageRequestAndParse(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/klines": respond(klinesBody),
	})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	got, err := c.CandlesticksPage(context.Background(), exchange.PageRequest{
		Symbol:   btc,
		Interval: time.Minute,
		Number:   2,
		Start:    start,
		End:      end,
	})
	if err != nil {
		t.Fatalf("CandlesticksPage() error = %v", err)
	}
	reqs := api.recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	q := reqs[0].Query
	want := map[string]string{
		"symbol":    "BTCUSDT",
		"interval":  "1m",
		"limit":     "2",
		"startTime": "1704067200000",
		"endTime":   "1704070800000",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Fatalf("query %s = %q, want %q", k, q.Get(k), v)
		}
	}
	if q.Get("signature") != "" {
		t.Fatalf("klines request must not be signed")
	}
	if len(got) != 2 {
		t.Fatalf("candlesticks = %d, want 2", len(got))
	}
	first := got[0]
	if !first.OpenTime.Equal(start) {
		t.Fatalf("OpenTime = %s, want %s", first.OpenTime, start)
	}
	if !first.CloseTime.Equal(start.Add(time.Minute - time.Millisecond)) {
		t.Fatalf("CloseTime = %s", first.CloseTime)
	}
	if !first.High.Equal(decimal.RequireFromString("110.5")) || !first.Low.Equal(decimal.RequireFromString("95")) {
		t.Fatalf("high/low = %s/%s", first.High, first.Low)
	}
	if first.BuyVolume.String() != "800.25" || first.SellVolume.String() != "500.5" {
		t.Fatalf("buy/sell volume = %s/%s, want 800.25/500.5", first.BuyVolume, first.SellVolume)
	}
}

func TestCandlesticksPageOmitsOpenBounds(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/klines": respond(`[]`),
	})
	got, err := c.CandlesticksPage(context.Background(), exchange.PageRequest{Symbol: btc, Interval: 4 * time.Hour, Number: 10})
	if err != nil {
		t.Fatalf("CandlesticksPage() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candlesticks = %d, want 0", len(got))
	}
	q := api.recorded()[0].Query
	if q.Has("startTime") || q.Has("endTime") {
		t.Fatalf("query = %v, want no time bounds", q)
	}
	if q.Get("interval") != "4h" {
		t.Fatalf("interval = %q, want 4h", q.Get("interval"))
	}
}

func TestCandlesticksPageRejectsUnsupportedInterval(t *testing.T) {
	api, c := newFakeAPI(t, nil)
	_, err := c.CandlesticksPage(context.Background(), exchange.PageRequest{Symbol: btc, Interval: 7 * time.Minute, Number: 10})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("CandlesticksPage() error = %v, want configuration error", err)
	}
	if n := len(api.recorded()); n != 0 {
		t.Fatalf("requests = %d, want none", n)
	}
}

func TestCandlesticksPageRejectsInvalidKline(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/klines": respond(`[[1704067200000, "100", "99", "95", "105", "1", 1704067259999, "10", 1, "1", "5", "0"]]`),
	})
	_, err := c.CandlesticksPage(context.Background(), exchange.PageRequest{Symbol: btc, Interval: time.Minute, Number: 1})
	if err == nil {
		t.Fatalf("CandlesticksPage() error = nil, want invalid candlestick")
	}
}

func TestUpstreamErrorIsPropagated(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/klines": respondStatus(http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`),
	})
	_, err := c.CandlesticksPage(context.Background(), exchange.PageRequest{Symbol: btc, Interval: time.Minute, Number: 1})
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Code != -1003 || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want APIError -1003", err)
	}
}

func TestDatetimeAndSymbols(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/time": respond(`{"serverTime":1704067200123}`),
		"GET /fapi/v1/exchangeInfo": respond(`{"symbols":[
			{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","status":"TRADING","contractType":"PERPETUAL","filters":[]},
			{"symbol":"ETHUSDT_240329","baseAsset":"ETH","quoteAsset":"USDT","status":"TRADING","contractType":"CURRENT_QUARTER","filters":[]},
			{"symbol":"XRPUSDT","baseAsset":"XRP","quoteAsset":"USDT","status":"SETTLING","contractType":"PERPETUAL","filters":[]}
		]}`),
	})
	ctx := context.Background()

	now, err := c.Datetime(ctx)
	if err != nil {
		t.Fatalf("Datetime() error = %v", err)
	}
	if now.UnixMilli() != 1704067200123 {
		t.Fatalf("Datetime() = %s", now)
	}

	symbols, err := c.Symbols(ctx)
	if err != nil {
		t.Fatalf("Symbols() error = %v", err)
	}
	if len(symbols) != 1 || !symbols[0].Is("BTCUSDT") || symbols[0].BaseAsset != "BTC" {
		t.Fatalf("Symbols() = %+v, want only BTCUSDT", symbols)
	}
}

func TestRulesMapMergesFiltersAndBracket(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/exchangeInfo": respond(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT",
			"status":"TRADING","contractType":"PERPETUAL","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
			{"filterType":"MARKET_LOT_SIZE","minQty":"0.001","maxQty":"120","stepSize":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}]}]}`),
		"GET /fapi/v1/leverageBracket": respond(`[{"symbol":"BTCUSDT","brackets":[
			{"bracket":2,"initialLeverage":100,"notionalCap":250000,"notionalFloor":50000},
			{"bracket":1,"initialLeverage":125,"notionalCap":50000,"notionalFloor":0}]},
			{"symbol":"DELISTED","brackets":[{"bracket":1,"initialLeverage":20,"notionalCap":1,"notionalFloor":0}]}]`),
	})

	rules, err := c.RulesMap(context.Background())
	if err != nil {
		t.Fatalf("RulesMap() error = %v", err)
	}
	r, ok := rules["BTCUSDT"]
	if !ok || len(rules) != 1 {
		t.Fatalf("RulesMap() = %+v, want BTCUSDT only", rules)
	}
	checks := []struct {
		name string
		got  decimal.NullDecimal
		want string
	}{
		{"SizeMin", r.SizeMin, "0.001"},
		{"SizeMax", r.SizeMax, "1000"},
		{"SizeStep", r.SizeStep, "0.001"},
		{"NotionalMin", r.NotionalMin, "100"},
		{"NotionalMax", r.NotionalMax, "50000"},
		{"PriceMin", r.PriceMin, "556.8"},
		{"PriceMax", r.PriceMax, "4529764"},
		{"PriceStep", r.PriceStep, "0.1"},
	}
	for _, tc := range checks {
		if !tc.got.Valid || !tc.got.Decimal.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s = %+v, want %s", tc.name, tc.got, tc.want)
		}
	}
	if r.LeverageMax != 125 {
		t.Fatalf("LeverageMax = %d, want 125", r.LeverageMax)
	}

	reqs := api.recorded()
	if len(reqs) != 2 || reqs[1].Path != "/fapi/v1/leverageBracket" {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[1].Query.Get("signature") == "" || reqs[1].APIKey != "key" {
		t.Fatalf("leverageBracket request must be signed with api key header")
	}
}

func TestParseRulesTreatsZeroMaximumAsUnset(t *testing.T) {
	r, err := parseRules([]filterResponse{
		{FilterType: "PRICE_FILTER", MinPrice: "0", MaxPrice: "0", TickSize: "0.01"},
	})
	if err != nil {
		t.Fatalf("parseRules() error = %v", err)
	}
	if !r.PriceMin.Valid || !r.PriceMin.Decimal.IsZero() {
		t.Fatalf("PriceMin = %+v, want 0", r.PriceMin)
	}
	if r.PriceMax.Valid {
		t.Fatalf("PriceMax = %+v, want unset", r.PriceMax)
	}
	if r.SizeMin.Valid || r.NotionalMin.Valid || r.LeverageMax != 0 {
		t.Fatalf("unrelated rules should stay unset: %+v", r)
	}
	if _, err := parseRules([]filterResponse{{FilterType: "LOT_SIZE", MinQty: "abc"}}); err == nil {
		t.Fatalf("parseRules(invalid) error = nil")
	}
}

func TestSignedRequestsRequireCredentials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()
	c := NewClientWithOptions(Options{RestBaseURL: srv.URL})
	ctx := context.Background()

	calls := map[string]func() error{
		"Balance":   func() error { _, err := c.Balance(ctx, "USDT"); return err },
		"Positions": func() error { _, err := c.Positions(ctx); return err },
		"RulesMap":  func() error { _, err := c.RulesMap(ctx); return err },
		"OpenPosition": func() error {
			_, err := c.OpenPosition(ctx, exchange.OpenRequest{Symbol: btc, Size: decimal.NewFromInt(1)})
			return err
		},
		"ClosePosition": func() error {
			return c.ClosePosition(ctx, core.Position{Symbol: "BTCUSDT", Size: decimal.NewFromInt(1), Leverage: 1})
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, core.ErrConfiguration) {
			t.Fatalf("%s() error = %v, want configuration error", name, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("server hits = %d, want 0", n)
	}
}

func TestSignedRequestSignature(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v3/balance": respond(`[{"asset":"USDT","crossWalletBalance":"1000.50","crossUnPnl":"-20.25"}]`),
	})
	if _, err := c.Balance(context.Background(), "USDT"); err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	req := api.recorded()[0]
	if req.APIKey != "key" {
		t.Fatalf("X-MBX-APIKEY = %q, want key", req.APIKey)
	}
	if req.Query.Get("timestamp") != "1700000000000" || req.Query.Get("recvWindow") != "5000" {
		t.Fatalf("query = %v", req.Query)
	}
	unsigned := url.Values{}
	for k, v := range req.Query {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	if want := signHMAC("secret", unsigned.Encode()); req.Query.Get("signature") != want {
		t.Fatalf("signature = %q, want %q", req.Query.Get("signature"), want)
	}
}

func TestSignedRequestEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	api := &fakeAPI{routes: map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v2/positionRisk": respond(`[]`),
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()
	c := NewClientWithOptions(Options{
		APIKey:      "key",
		PrivateKey:  priv,
		RestBaseURL: srv.URL + "/fapi",
	})
	if _, err := c.Positions(context.Background()); err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	req := api.recorded()[0]
	sig, err := base64.StdEncoding.DecodeString(req.Query.Get("signature"))
	if err != nil {
		t.Fatalf("signature %q is not base64: %v", req.Query.Get("signature"), err)
	}
	unsigned := url.Values{}
	for k, v := range req.Query {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	if !ed25519.Verify(pub, []byte(unsigned.Encode()), sig) {
		t.Fatalf("signature does not verify for %q", unsigned.Encode())
	}
}

func TestBalance(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v3/balance": respond(`[
			{"asset":"BNB","crossWalletBalance":"1","crossUnPnl":"0"},
			{"asset":"USDT","crossWalletBalance":"1000.50","crossUnPnl":"-20.25"}]`),
	})
	ctx := context.Background()
	b, err := c.Balance(ctx, "USDT")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if b.Asset != "USDT" || b.Total().String() != "980.25" {
		t.Fatalf("Balance() = %+v, total %s", b, b.Total())
	}
	if _, err := c.Balance(ctx, "DOGE"); !errors.Is(err, core.ErrUnknownAsset) {
		t.Fatalf("Balance(DOGE) error = %v, want unknown asset", err)
	}
}

func TestPositionsDropsFlat(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v2/positionRisk": respond(`[
			{"symbol":"BTCUSDT","positionAmt":"0.010","leverage":"20","unRealizedProfit":"1.5"},
			{"symbol":"ETHUSDT","positionAmt":"-2","leverage":"5","unRealizedProfit":"-3"},
			{"symbol":"XRPUSDT","positionAmt":"0.000","leverage":"1","unRealizedProfit":"0"}]`),
	})
	positions, err := c.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("Positions() = %+v, want 2 entries", positions)
	}
	if p := positions["BTCUSDT"]; !p.IsLong() || p.Leverage != 20 || p.PnL.String() != "1.5" {
		t.Fatalf("BTCUSDT = %+v", p)
	}
	if p := positions["ETHUSDT"]; !p.IsShort() || p.Leverage != 5 {
		t.Fatalf("ETHUSDT = %+v", p)
	}
}

func TestOpenPositionSendsOrders(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /fapi/v1/marginType": respondStatus(http.StatusBadRequest, `{"code":-4046,"msg":"No need to change margin type."}`),
		"POST /fapi/v1/leverage":   respond(`{"leverage":10,"symbol":"BTCUSDT"}`),
		"POST /fapi/v1/order":      respond(`{"symbol":"BTCUSDT","orderId":1,"status":"FILLED","executedQty":"0.5","avgPrice":"42000"}`),
	})

	pos, err := c.OpenPosition(context.Background(), exchange.OpenRequest{
		Symbol:     btc,
		Size:       decimal.RequireFromString("-0.5"),
		Leverage:   10,
		TakeProfit: core.Some(decimal.RequireFromString("40000")),
		StopLoss:   core.Some(decimal.RequireFromString("45000")),
	})
	if err != nil {
		t.Fatalf("OpenPosition() error = %v", err)
	}
	if !pos.IsShort() || pos.Leverage != 10 || pos.Symbol != "BTCUSDT" {
		t.Fatalf("OpenPosition() = %+v", pos)
	}

	reqs := api.recorded()
	paths := make([]string, len(reqs))
	for i, r := range reqs {
		paths[i] = r.Path
	}
	wantPaths := "/fapi/v1/marginType,/fapi/v1/leverage,/fapi/v1/order,/fapi/v1/order,/fapi/v1/order"
	if strings.Join(paths, ",") != wantPaths {
		t.Fatalf("paths = %v", paths)
	}
	if reqs[0].Form.Get("marginType") != "CROSSED" || reqs[1].Form.Get("leverage") != "10" {
		t.Fatalf("margin/leverage forms = %v / %v", reqs[0].Form, reqs[1].Form)
	}
	open := reqs[2].Form
	if open.Get("side") != "SELL" || open.Get("type") != "MARKET" || open.Get("quantity") != "0.5" || open.Get("positionSide") != "BOTH" {
		t.Fatalf("open order = %v", open)
	}
	tp := reqs[3].Form
	if tp.Get("type") != "TAKE_PROFIT_MARKET" || tp.Get("side") != "BUY" || tp.Get("stopPrice") != "40000" || tp.Get("closePosition") != "TRUE" {
		t.Fatalf("take profit order = %v", tp)
	}
	sl := reqs[4].Form
	if sl.Get("type") != "STOP_MARKET" || sl.Get("stopPrice") != "45000" || sl.Get("timeInForce") != "GTE_GTC" || sl.Get("workingType") != "CONTRACT_PRICE" {
		t.Fatalf("stop loss order = %v", sl)
	}
	for _, r := range reqs {
		if r.Form.Get("signature") == "" {
			t.Fatalf("%s request must be signed", r.Path)
		}
	}
}

func TestOpenPositionReportsExecutedSize(t *testing.T) {
	cases := []struct {
		name  string
		order string
		size  string
		want  string
	}{
		{"partial long", `{"symbol":"BTCUSDT","orderId":2,"status":"PARTIALLY_FILLED","executedQty":"0.3","avgPrice":"42000"}`, "0.5", "0.3"},
		{"partial short", `{"symbol":"BTCUSDT","orderId":3,"status":"PARTIALLY_FILLED","executedQty":"0.2","avgPrice":"42000"}`, "-0.5", "-0.2"},
		{"not filled", `{"symbol":"BTCUSDT","orderId":4,"status":"NEW","executedQty":"0","avgPrice":"0"}`, "0.5", "0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
				"POST /fapi/v1/marginType": respond(`{"code":200,"msg":"success"}`),
				"POST /fapi/v1/leverage":   respond(`{"leverage":1,"symbol":"BTCUSDT"}`),
				"POST /fapi/v1/order":      respond(tc.order),
			})
			pos, err := c.OpenPosition(context.Background(), exchange.OpenRequest{
				Symbol: btc,
				Size:   decimal.RequireFromString(tc.size),
			})
			if err != nil {
				t.Fatalf("OpenPosition() error = %v", err)
			}
			if pos.Size.String() != tc.want {
				t.Fatalf("OpenPosition().Size = %s, want %s", pos.Size, tc.want)
			}
		})
	}
}

func TestOpenPositionFailsOnMarginTypeError(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /fapi/v1/marginType": respondStatus(http.StatusBadRequest, `{"code":-4047,"msg":"Margin type cannot be changed if there exists open orders."}`),
	})
	_, err := c.OpenPosition(context.Background(), exchange.OpenRequest{Symbol: btc, Size: decimal.NewFromInt(1), Leverage: 1})
	if !IsAPIErrorCode(err, -4047) {
		t.Fatalf("OpenPosition() error = %v, want -4047", err)
	}
	if n := len(api.recorded()); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}
}

func TestClosePositionSendsReduceOnlyOrder(t *testing.T) {
	api, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /fapi/v1/order": respond(`{"symbol":"ETHUSDT","orderId":2,"status":"FILLED"}`),
	})
	ctx := context.Background()
	if err := c.ClosePosition(ctx, core.Position{Symbol: "ETHUSDT", Size: decimal.RequireFromString("-2"), Leverage: 5}); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if err := c.ClosePosition(ctx, core.Position{Symbol: "XRPUSDT", Leverage: 1}); err != nil {
		t.Fatalf("ClosePosition(flat) error = %v", err)
	}
	reqs := api.recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	form := reqs[0].Form
	if form.Get("side") != "BUY" || form.Get("reduceOnly") != "TRUE" || form.Get("quantity") != "2" || form.Get("type") != "MARKET" {
		t.Fatalf("close order = %v", form)
	}
}

func TestStats(t *testing.T) {
	_, c := newFakeAPI(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /fapi/v1/ticker/24hr": respond(`[{"symbol":"BTCUSDT","quoteVolume":"123456.78"},{"symbol":"ETHUSDT","quoteVolume":"42"}]`),
	})
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats["BTCUSDT"].Volume.String() != "123456.78" || len(stats) != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
}
