package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
	"github.com/BasicFist/tradeguard/internal/infrastructure/guard"
)

const (
	weightOrder        = 1
	weightTickerPrice  = 2
	weightExchangeInfo = 10
)

// BinanceGateway is the REST adapter for order submission, order
// constraints and point price queries. Every call pays the rate-limiter
// budget first and then runs under the venue circuit breaker, so a banned
// or failing venue is walled off before it can cascade.
type BinanceGateway struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client

	limiter *guard.RateLimiter
	breaker *guard.CircuitBreaker
	logger  *zap.Logger
}

func NewBinanceGateway(apiKey, apiSecret, baseURL string, limiter *guard.RateLimiter, breaker *guard.CircuitBreaker, logger *zap.Logger) *BinanceGateway {
	return &BinanceGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   limiter,
		breaker:   breaker,
		logger:    logger,
	}
}

func (g *BinanceGateway) sign(query string) string {
	h := hmac.New(sha256.New, []byte(g.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *BinanceGateway) sendRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		params.Set("signature", g.sign(params.Encode()))
	}

	reqURL := g.baseURL + path
	var reqBody io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	if g.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	g.observeUsage(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// observeUsage feeds the venue's reported counters to the limiter for
// alerting. Header absence is normal on some endpoints.
func (g *BinanceGateway) observeUsage(h http.Header) {
	usedWeight, _ := strconv.Atoi(h.Get("X-MBX-USED-WEIGHT-1M"))
	orderCount, _ := strconv.Atoi(h.Get("X-MBX-ORDER-COUNT-1M"))
	if usedWeight > 0 || orderCount > 0 {
		g.limiter.ObserveUsage(usedWeight, orderCount)
	}
}

// SubmitMarketOrder places a quote-quantity market order. It consumes an
// order-budget token on top of the request weight.
func (g *BinanceGateway) SubmitMarketOrder(ctx context.Context, symbol string, side domain.Side, quoteQty float64) (*domain.OrderResult, error) {
	if err := g.limiter.Order(ctx, weightOrder); err != nil {
		return nil, err
	}

	var result *domain.OrderResult
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", string(side))
		params.Set("type", "MARKET")
		params.Set("quoteOrderQty", strconv.FormatFloat(quoteQty, 'f', -1, 64))

		body, err := g.sendRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
		if err != nil {
			return err
		}

		var raw struct {
			OrderID     int64  `json:"orderId"`
			ExecutedQty string `json:"executedQty"`
			CumQuoteQty string `json:"cummulativeQuoteQty"`
			Fills       []struct {
				Price string `json:"price"`
				Qty   string `json:"qty"`
			} `json:"fills"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("decode order response: %w", err)
		}

		executed, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
		cumQuote, _ := strconv.ParseFloat(raw.CumQuoteQty, 64)
		avg := 0.0
		if executed > 0 {
			avg = cumQuote / executed
		}

		result = &domain.OrderResult{
			OrderID:     strconv.FormatInt(raw.OrderID, 10),
			ExecutedQty: executed,
			AvgPrice:    avg,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("market order filled",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("executed_qty", result.ExecutedQty),
		zap.Float64("avg_price", result.AvgPrice),
		zap.String("order_id", result.OrderID))
	return result, nil
}

// OrderConstraints fetches the symbol's tick size, step size and minimum
// notional from exchange info.
func (g *BinanceGateway) OrderConstraints(ctx context.Context, symbol string) (*domain.OrderConstraints, error) {
	if err := g.limiter.Request(ctx, weightExchangeInfo); err != nil {
		return nil, err
	}

	var constraints *domain.OrderConstraints
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		params := url.Values{}
		params.Set("symbol", symbol)

		body, err := g.sendRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
		if err != nil {
			return err
		}

		var raw struct {
			Symbols []struct {
				Symbol  string `json:"symbol"`
				Filters []struct {
					FilterType  string `json:"filterType"`
					TickSize    string `json:"tickSize"`
					StepSize    string `json:"stepSize"`
					MinNotional string `json:"minNotional"`
				} `json:"filters"`
			} `json:"symbols"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("decode exchange info: %w", err)
		}
		if len(raw.Symbols) == 0 {
			return &domain.StatusError{Status: 400, Body: "unknown symbol " + symbol}
		}

		constraints = &domain.OrderConstraints{Symbol: symbol}
		for _, f := range raw.Symbols[0].Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				constraints.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				constraints.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			case "MIN_NOTIONAL", "NOTIONAL":
				constraints.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return constraints, nil
}

// TickerPrice answers a point query for the current price. This is the
// market stream's degraded-mode fallback path.
func (g *BinanceGateway) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.limiter.Request(ctx, weightTickerPrice); err != nil {
		return 0, err
	}

	var price float64
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		params := url.Values{}
		params.Set("symbol", symbol)

		body, err := g.sendRequest(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", params, false)
		if err != nil {
			return err
		}

		var raw struct {
			BidPrice string `json:"bidPrice"`
			AskPrice string `json:"askPrice"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("decode book ticker: %w", err)
		}

		bid, _ := strconv.ParseFloat(raw.BidPrice, 64)
		ask, _ := strconv.ParseFloat(raw.AskPrice, 64)
		if bid <= 0 && ask <= 0 {
			return fmt.Errorf("%s: %w", symbol, domain.ErrPriceUnavailable)
		}
		ticker := domain.MarketTicker{Symbol: symbol, BestBid: bid, BestAsk: ask}
		price = ticker.Mid()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}
