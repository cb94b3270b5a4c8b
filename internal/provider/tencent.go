package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stock-order-flow/internal/domain"
)

const tencentName = "tencent"

// Tencent adapts the qt.gtimg.cn quote host. Responses are one line of
// GBK text with tilde-separated fields:
// v_sh603001="1~奥康国际~603001~8.48~8.40~8.41~56033~...";
type Tencent struct {
	baseURL string
	client  *Client
}

// NewTencent creates the adapter. baseURL defaults to the public host.
func NewTencent(baseURL string, opts ...ClientOption) *Tencent {
	if baseURL == "" {
		baseURL = "https://qt.gtimg.cn"
	}
	opts = append([]ClientOption{WithReferer("https://gu.qq.com")}, opts...)
	return &Tencent{baseURL: baseURL, client: NewClient(opts...)}
}

// Name implements QuoteSource and BaseInfoSource.
func (t *Tencent) Name() string { return tencentName }

// FetchQuote implements QuoteSource.
func (t *Tencent) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	info, err := t.FetchBaseInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &info.Quote, nil
}

// FetchBaseInfo implements BaseInfoSource. Tencent is the only free
// host carrying fundamentals (PE, PB, market cap, turnover rate) in
// the same response as the quote.
func (t *Tencent) FetchBaseInfo(ctx context.Context, symbol string) (*domain.BaseInfo, error) {
	url := fmt.Sprintf("%s/q=%s", t.baseURL, marketPrefix(symbol))
	body, err := t.client.Get(ctx, url, true)
	if err != nil {
		return nil, wrapErr(tencentName, symbol, err)
	}

	info, err := parseTencent(symbol, string(body))
	if err != nil {
		return nil, wrapErr(tencentName, symbol, err)
	}
	return info, nil
}

// Tencent field positions within the tilde-separated payload.
const (
	tcFieldName         = 1
	tcFieldPrice        = 3
	tcFieldPrevClose    = 4
	tcFieldOpen         = 5
	tcFieldVolume       = 6
	tcFieldHigh         = 33
	tcFieldLow          = 34
	tcFieldTurnover     = 37
	tcFieldTurnoverRate = 38
	tcFieldPERatio      = 39
	tcFieldMarketCap    = 45
	tcFieldPBRatio      = 46
	tcMinFields         = 47
)

func parseTencent(symbol, raw string) (*domain.BaseInfo, error) {
	if !strings.Contains(raw, "~") {
		return nil, fmt.Errorf("unexpected response shape")
	}
	start := strings.Index(raw, `"`)
	end := strings.LastIndex(raw, `"`)
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no payload in response")
	}
	parts := strings.Split(raw[start+1:end], "~")
	if len(parts) < tcMinFields {
		return nil, fmt.Errorf("payload has %d fields, want at least %d", len(parts), tcMinFields)
	}

	price, err := sinaDecimal(parts[tcFieldPrice])
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	prevClose, err := sinaDecimal(parts[tcFieldPrevClose])
	if err != nil {
		return nil, fmt.Errorf("prev close: %w", err)
	}
	open, err := sinaDecimal(parts[tcFieldOpen])
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	high, err := sinaDecimal(parts[tcFieldHigh])
	if err != nil {
		return nil, fmt.Errorf("high: %w", err)
	}
	low, err := sinaDecimal(parts[tcFieldLow])
	if err != nil {
		return nil, fmt.Errorf("low: %w", err)
	}
	volume, err := sinaInt(parts[tcFieldVolume])
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	turnover, err := sinaDecimal(parts[tcFieldTurnover])
	if err != nil {
		return nil, fmt.Errorf("turnover: %w", err)
	}
	turnoverRate, err := sinaDecimal(parts[tcFieldTurnoverRate])
	if err != nil {
		return nil, fmt.Errorf("turnover rate: %w", err)
	}
	peRatio, err := sinaDecimal(parts[tcFieldPERatio])
	if err != nil {
		return nil, fmt.Errorf("pe ratio: %w", err)
	}
	marketCap, err := sinaDecimal(parts[tcFieldMarketCap])
	if err != nil {
		return nil, fmt.Errorf("market cap: %w", err)
	}
	pbRatio, err := sinaDecimal(parts[tcFieldPBRatio])
	if err != nil {
		return nil, fmt.Errorf("pb ratio: %w", err)
	}

	return &domain.BaseInfo{
		Quote: domain.Quote{
			Code:      symbol,
			Name:      parts[tcFieldName],
			Price:     price,
			PrevClose: prevClose,
			Open:      open,
			High:      high,
			Low:       low,
			Volume:    volume,
			Turnover:  turnover,
			FetchedAt: time.Now().UnixMilli(),
			Source:    tencentName,
		},
		MarketCap:    marketCap,
		PERatio:      peRatio,
		PBRatio:      pbRatio,
		TurnoverRate: turnoverRate,
	}, nil
}

var (
	_ QuoteSource    = (*Tencent)(nil)
	_ BaseInfoSource = (*Tencent)(nil)
)
