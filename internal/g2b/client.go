// Package g2b fetches bid notices from the public procurement (나라장터) API.
package g2b

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bidwatch/internal/bid"
	logx "bidwatch/pkg/logx"
)

const (
	DefaultEndpoint = "https://apis.data.go.kr/1230000/ad/BidPublicInfoService/getBidPblancListInfoServcPPSSrch"
	// MaxPageSize is the largest numOfRows the API serves in one call.
	MaxPageSize    = 200
	DefaultTimeout = 30 * time.Second
	windowLayout   = "200601021504"
	resultCodeOK   = "00"
	maxErrBodySize = 512
)

type Config struct {
	ServiceKey string
	Endpoint   string
	PageSize   int
	Timeout    time.Duration
}

// Query is one page request for a registration-date window.
type Query struct {
	Begin    time.Time
	End      time.Time
	PageSize int
	PageNo   int
}

// DayWindow covers the calendar day of now, 00:00 through 23:59, in now's
// location. PageSize is left 0 so the client applies its configured size.
func DayWindow(now time.Time) Query {
	y, m, d := now.Date()
	begin := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := time.Date(y, m, d, 23, 59, 0, 0, now.Location())
	return Query{Begin: begin, End: end, PageNo: 1}
}

// FetchError is any failure to obtain a page: transport, status, body or
// API-level result code.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("g2b %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("g2b %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Fetch requests one page. Pagination beyond that page is not followed; a
// warning is logged when the API reports more rows than were returned.
func (c *Client) Fetch(ctx context.Context, q Query) ([]bid.Raw, error) {
	if q.PageSize <= 0 {
		q.PageSize = c.cfg.PageSize
	}
	if q.PageNo <= 0 {
		q.PageNo = 1
	}

	u, err := c.requestURL(q)
	if err != nil {
		return nil, &FetchError{Op: "build request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &FetchError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the service key; keep it out of logs and errors.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, &FetchError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "read body", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Op: "request", StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	items, total, err := decodeResponse(body)
	if err != nil {
		return nil, &FetchError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug("page fetched",
		logx.Int("items", len(items)),
		logx.Int("total", total),
		logx.Int("page_size", q.PageSize),
		logx.Duration("took", time.Since(start)),
	)
	if total > q.PageNo*q.PageSize {
		c.log.Warn("more notices than one page; the rest are not fetched",
			logx.Int("total", total), logx.Int("page_size", q.PageSize))
	}
	return items, nil
}

func (c *Client) requestURL(q Query) (string, error) {
	base, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	v := base.Query()
	// serviceKey is issued URL-encoded; callers usually paste it as-is.
	v.Set("numOfRows", strconv.Itoa(q.PageSize))
	v.Set("pageNo", strconv.Itoa(q.PageNo))
	v.Set("inqryDiv", "1")
	v.Set("inqryBgnDt", q.Begin.Format(windowLayout))
	v.Set("inqryEndDt", q.End.Format(windowLayout))
	v.Set("type", "json")
	base.RawQuery = "serviceKey=" + serviceKeyParam(c.cfg.ServiceKey) + "&" + v.Encode()
	return base.String(), nil
}

// serviceKeyParam passes an already-encoded key through and encodes a raw one.
func serviceKeyParam(key string) string {
	key = strings.TrimSpace(key)
	if strings.Contains(key, "%") {
		if _, err := url.QueryUnescape(key); err == nil {
			return key
		}
	}
	return url.QueryEscape(key)
}

type apiResponse struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      json.RawMessage `json:"items"`
			TotalCount json.Number     `json:"totalCount"`
		} `json:"body"`
	} `json:"response"`
}

func decodeResponse(body []byte) ([]bid.Raw, int, error) {
	var r apiResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, 0, err
	}
	h := r.Response.Header
	if h.ResultCode != "" && h.ResultCode != resultCodeOK {
		return nil, 0, fmt.Errorf("api result %s: %s", h.ResultCode, h.ResultMsg)
	}

	total := 0
	if s := r.Response.Body.TotalCount.String(); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			total = n
		}
	}

	items, err := decodeItems(r.Response.Body.Items)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// decodeItems accepts the shapes the API uses for "items": an array, an
// object wrapping "item" (array or single object), or "" / null when empty.
func decodeItems(raw json.RawMessage) ([]bid.Raw, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return []bid.Raw{}, nil
	}
	switch raw[0] {
	case '[':
		var items []bid.Raw
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		return items, nil
	case '{':
		var wrap struct {
			Item json.RawMessage `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrap); err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		inner := bytes.TrimSpace(wrap.Item)
		if len(inner) > 0 && inner[0] == '{' {
			var one bid.Raw
			if err := json.Unmarshal(inner, &one); err != nil {
				return nil, fmt.Errorf("items.item: %w", err)
			}
			return []bid.Raw{one}, nil
		}
		return decodeItems(inner)
	default:
		return nil, fmt.Errorf("items: unexpected %s", snippet(raw))
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrBodySize {
		s = s[:maxErrBodySize] + "..."
	}
	return s
}
