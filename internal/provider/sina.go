package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

// sinaName is the provider id recorded on normalized data.
const sinaName = "sina"

// Sina adapts the hq.sinajs.cn quote host. Responses are one line of
// GBK text: var hq_str_sh603001="name,open,prevclose,price,high,low,
// bid,ask,volume,turnover,...";
type Sina struct {
	baseURL string
	client  *Client
}

// NewSina creates the adapter. baseURL defaults to the public host.
func NewSina(baseURL string, opts ...ClientOption) *Sina {
	if baseURL == "" {
		baseURL = "https://hq.sinajs.cn"
	}
	opts = append([]ClientOption{WithReferer("https://finance.sina.com.cn")}, opts...)
	return &Sina{baseURL: baseURL, client: NewClient(opts...)}
}

// Name implements QuoteSource.
func (s *Sina) Name() string { return sinaName }

// FetchQuote implements QuoteSource.
func (s *Sina) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	url := fmt.Sprintf("%s/list=%s", s.baseURL, marketPrefix(symbol))
	body, err := s.client.Get(ctx, url, true)
	if err != nil {
		return nil, wrapErr(sinaName, symbol, err)
	}

	quote, err := parseSinaQuote(symbol, string(body))
	if err != nil {
		return nil, wrapErr(sinaName, symbol, err)
	}
	return quote, nil
}

// parseSinaQuote extracts the comma-separated payload between quotes.
func parseSinaQuote(symbol, raw string) (*domain.Quote, error) {
	if !strings.Contains(raw, "var hq_str_") {
		return nil, fmt.Errorf("unexpected response shape")
	}
	start := strings.Index(raw, `"`)
	end := strings.LastIndex(raw, `"`)
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no payload in response")
	}
	payload := raw[start+1 : end]
	if payload == "" {
		return nil, fmt.Errorf("empty payload, unknown symbol")
	}

	parts := strings.Split(payload, ",")
	if len(parts) < 32 {
		return nil, fmt.Errorf("payload has %d fields, want at least 32", len(parts))
	}

	price, err := sinaDecimal(parts[3])
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	prevClose, err := sinaDecimal(parts[2])
	if err != nil {
		return nil, fmt.Errorf("prev close: %w", err)
	}
	open, err := sinaDecimal(parts[1])
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	high, err := sinaDecimal(parts[4])
	if err != nil {
		return nil, fmt.Errorf("high: %w", err)
	}
	low, err := sinaDecimal(parts[5])
	if err != nil {
		return nil, fmt.Errorf("low: %w", err)
	}
	volume, err := sinaInt(parts[8])
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	turnover, err := sinaDecimal(parts[9])
	if err != nil {
		return nil, fmt.Errorf("turnover: %w", err)
	}

	return &domain.Quote{
		Code:      symbol,
		Name:      parts[0],
		Price:     price,
		PrevClose: prevClose,
		Open:      open,
		High:      high,
		Low:       low,
		Volume:    volume,
		Turnover:  turnover,
		FetchedAt: time.Now().UnixMilli(),
		Source:    sinaName,
	}, nil
}

func sinaDecimal(field string) (decimal.Decimal, error) {
	if field == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(field)
}

func sinaInt(field string) (int64, error) {
	if field == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

var _ QuoteSource = (*Sina)(nil)
