package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

const eastmoneyName = "eastmoney"

// cst is the exchange timezone; tick timestamps on the wire are
// clock-only and are anchored to the requested trading day in CST.
var cst = time.FixedZone("CST", 8*3600)

// Eastmoney adapts the push2 JSON API, the only free host exposing
// trade-level detail rows and the intraday minute curve.
type Eastmoney struct {
	baseURL    string
	historyURL string
	client     *Client
}

// NewEastmoney creates the adapter. Empty URLs default to the public
// hosts.
func NewEastmoney(baseURL, historyURL string, opts ...ClientOption) *Eastmoney {
	if baseURL == "" {
		baseURL = "https://push2.eastmoney.com"
	}
	if historyURL == "" {
		historyURL = "https://push2his.eastmoney.com"
	}
	return &Eastmoney{baseURL: baseURL, historyURL: historyURL, client: NewClient(opts...)}
}

// Name implements TickSource and TimeshareSource.
func (e *Eastmoney) Name() string { return eastmoneyName }

// secID maps a bare code to the push2 secid form: Shanghai is market 1,
// Shenzhen market 0.
func secID(symbol string) string {
	if len(symbol) > 0 && symbol[0] == '6' {
		return "1." + symbol
	}
	return "0." + symbol
}

type emDetailsResponse struct {
	Data *struct {
		Details []string `json:"details"`
	} `json:"data"`
}

// FetchTicks implements TickSource. Detail rows are
// "HH:MM:SS,price,volume,count,side" with volume in lots of 100 shares
// and side 2=buy, 1=sell, 4=neutral.
func (e *Eastmoney) FetchTicks(ctx context.Context, symbol string, from, to int64) ([]domain.Tick, error) {
	url := fmt.Sprintf("%s/api/qt/stock/details/get?secid=%s&fields1=f1,f2,f3,f4&fields2=f51,f52,f53,f54,f55&pos=-10000",
		e.baseURL, secID(symbol))
	body, err := e.client.Get(ctx, url, false)
	if err != nil {
		return nil, wrapErr(eastmoneyName, symbol, err)
	}

	var resp emDetailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("decode: %w", err))
	}
	if resp.Data == nil || len(resp.Data.Details) == 0 {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("no detail rows"))
	}

	day := time.UnixMilli(from).In(cst)
	ticks := make([]domain.Tick, 0, len(resp.Data.Details))
	for i, row := range resp.Data.Details {
		tick, err := parseEastmoneyDetail(symbol, int64(i+1), day, row)
		if err != nil {
			return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("row %d: %w", i, err))
		}
		if tick.Time < from || tick.Time > to {
			continue
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) == 0 {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("no ticks within range"))
	}
	return ticks, nil
}

func parseEastmoneyDetail(symbol string, seq int64, day time.Time, row string) (domain.Tick, error) {
	parts := strings.Split(row, ",")
	if len(parts) < 5 {
		return domain.Tick{}, fmt.Errorf("detail row has %d fields, want 5", len(parts))
	}

	clock, err := time.ParseInLocation("15:04:05", parts[0], cst)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("time: %w", err)
	}
	ts := time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, cst).UnixMilli()

	price, err := decimal.NewFromString(parts[1])
	if err != nil {
		return domain.Tick{}, fmt.Errorf("price: %w", err)
	}
	lots, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("volume: %w", err)
	}

	var side domain.Side
	switch parts[4] {
	case "2":
		side = domain.SideBuy
	case "1":
		side = domain.SideSell
	case "4":
		side = domain.SideNeutral
	default:
		side = domain.SideUnknown
	}

	return domain.NewTick(seq, symbol, ts, price, lots*100, side, eastmoneyName), nil
}

type emTrendsResponse struct {
	Data *struct {
		Trends []string `json:"trends"`
	} `json:"data"`
}

// FetchTimeshare implements TimeshareSource. Trend rows are
// "YYYY-MM-DD HH:MM,open,close,high,low,volume,amount,avg".
func (e *Eastmoney) FetchTimeshare(ctx context.Context, symbol, date string) ([]domain.Timeshare, error) {
	url := fmt.Sprintf("%s/api/qt/stock/trends2/get?secid=%s&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56,f57,f58&ndays=1",
		e.historyURL, secID(symbol))
	body, err := e.client.Get(ctx, url, false)
	if err != nil {
		return nil, wrapErr(eastmoneyName, symbol, err)
	}

	var resp emTrendsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("decode: %w", err))
	}
	if resp.Data == nil || len(resp.Data.Trends) == 0 {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("no trend rows"))
	}

	bars := make([]domain.Timeshare, 0, len(resp.Data.Trends))
	for i, row := range resp.Data.Trends {
		bar, err := parseEastmoneyTrend(symbol, row)
		if err != nil {
			return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("row %d: %w", i, err))
		}
		if date != "" && !strings.HasPrefix(row, date) {
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, wrapErr(eastmoneyName, symbol, fmt.Errorf("no bars for date %s", date))
	}
	return bars, nil
}

func parseEastmoneyTrend(symbol, row string) (domain.Timeshare, error) {
	parts := strings.Split(row, ",")
	if len(parts) < 7 {
		return domain.Timeshare{}, fmt.Errorf("trend row has %d fields, want 7", len(parts))
	}

	ts, err := time.ParseInLocation("2006-01-02 15:04", parts[0], cst)
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("time: %w", err)
	}
	open, err := decimal.NewFromString(parts[1])
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("open: %w", err)
	}
	closeP, err := decimal.NewFromString(parts[2])
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("close: %w", err)
	}
	high, err := decimal.NewFromString(parts[3])
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("high: %w", err)
	}
	low, err := decimal.NewFromString(parts[4])
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("low: %w", err)
	}
	volume, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("volume: %w", err)
	}
	amount, err := decimal.NewFromString(parts[6])
	if err != nil {
		return domain.Timeshare{}, fmt.Errorf("amount: %w", err)
	}

	return domain.Timeshare{
		Symbol: symbol,
		Time:   ts.UnixMilli(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: volume * 100,
		Amount: amount,
		Source: eastmoneyName,
	}, nil
}

var (
	_ TickSource      = (*Eastmoney)(nil)
	_ TimeshareSource = (*Eastmoney)(nil)
)
