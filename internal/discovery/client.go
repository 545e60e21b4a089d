package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"polymarket-trader/pkg/types"
)

// Client is an HTTP client for a Gamma-style markets API. Requests are
// rate limited so a tight scan loop cannot hammer the endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new markets API client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		logger:  logger,
	}
}

// FetchMarkets fetches active markets sorted by 24h volume descending.
// limit == 0 requests the upstream default page size.
func (c *Client) FetchMarkets(ctx context.Context, limit int) ([]types.MarketInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Add("active", "true")
	params.Add("closed", "false")
	params.Add("offset", "0")
	params.Add("order", "volume24hr")
	params.Add("ascending", "false")
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}

	requestURL := fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polymarket-trader/1.0")

	c.logger.Debug("fetching-markets",
		zap.String("url", requestURL),
		zap.Int("limit", limit))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	// The API returns a direct array. Rows are decoded individually so
	// one malformed market does not poison the whole scan.
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	markets := make([]types.MarketInfo, 0, len(rows))
	for _, row := range rows {
		var raw rawMarket
		if err := json.Unmarshal(row, &raw); err != nil {
			c.logger.Debug("skipping-unparseable-market", zap.Error(err))
			continue
		}
		info, ok := raw.toMarketInfo()
		if !ok {
			continue
		}
		markets = append(markets, info)
	}

	c.logger.Debug("fetched-markets", zap.Int("count", len(markets)))
	return markets, nil
}

// rawMarket mirrors the upstream market row. The schema drifts, so
// every field is tolerant: numbers may arrive as strings, lists as
// JSON-stringified lists, identifiers under several names.
type rawMarket struct {
	ID           flexString `json:"id"`
	MarketID     flexString `json:"market_id"`
	ConditionID  flexString `json:"conditionId"`
	ConditionID2 flexString `json:"condition_id"`
	Question     string     `json:"question"`
	Title        string     `json:"title"`
	Active       *bool      `json:"active"`
	EventID      flexString `json:"event_id"`
	Events       []rawEvent `json:"events"`
	EndDate      flexFloat  `json:"endDate"`
	Volume24hr   flexFloat  `json:"volume24hr"`
	Volume       flexFloat  `json:"volume"`
	Liquidity    flexFloat  `json:"liquidity"`
	LiquidityNum flexFloat  `json:"liquidityNum"`
	ClobTokenIDs flexList   `json:"clobTokenIds"`
	Outcomes     flexList   `json:"outcomes"`
}

type rawEvent struct {
	ID flexString `json:"id"`
}

func (r *rawMarket) toMarketInfo() (types.MarketInfo, bool) {
	marketID := firstNonEmpty(string(r.ID), string(r.MarketID), string(r.ConditionID))
	if marketID == "" {
		return types.MarketInfo{}, false
	}

	eventID := string(r.EventID)
	if eventID == "" && len(r.Events) > 0 {
		eventID = string(r.Events[0].ID)
	}
	if eventID == "" {
		eventID = "event:" + marketID
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	volume := float64(r.Volume24hr)
	if volume == 0 {
		volume = float64(r.Volume)
	}
	liquidity := float64(r.Liquidity)
	if liquidity == 0 {
		liquidity = float64(r.LiquidityNum)
	}

	// Heuristic for numeric end dates: anything past year ~2065 is a
	// millisecond epoch.
	endTS := float64(r.EndDate)
	if endTS > 3_000_000_000 {
		endTS /= 1000.0
	}

	// Prefer the "Yes" outcome token for the websocket market channel.
	clobTokenID := ""
	if len(r.ClobTokenIDs) > 0 {
		idx := 0
		for i, o := range r.Outcomes {
			if strings.EqualFold(strings.TrimSpace(o), "yes") {
				idx = i
				break
			}
		}
		if idx >= len(r.ClobTokenIDs) {
			idx = 0
		}
		clobTokenID = r.ClobTokenIDs[idx]
	}

	return types.MarketInfo{
		MarketID:     marketID,
		Question:     firstNonEmpty(r.Question, r.Title),
		EventID:      eventID,
		Active:       active,
		EndTS:        endTS,
		Volume24hUSD: volume,
		LiquidityUSD: liquidity,
		ConditionID:  firstNonEmpty(string(r.ConditionID), string(r.ConditionID2)),
		ClobTokenID:  clobTokenID,
	}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = ""
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

// flexFloat decodes a JSON number or numeric string into a float64.
// Unparseable values decode to zero rather than failing the row.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = 0
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s = strings.TrimSpace(v)
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(parsed)
	return nil
}

// flexList decodes a JSON array of strings or a JSON-stringified array
// such as "[\"a\", \"b\"]" into a string slice.
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*f = nil
		return nil
	}
	if s[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, string(it))
		}
		*f = out
		return nil
	}
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	inner = strings.Trim(strings.TrimSpace(inner), "[]")
	if inner == "" {
		*f = nil
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	*f = out
	return nil
}
