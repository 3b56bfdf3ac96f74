package datasource

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/circuitbreaker"
	pkghttp "SignalFlow/backend/go/pkg/http"
	"SignalFlow/backend/go/pkg/logger"
	"SignalFlow/backend/go/pkg/ratelimiter"
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
)

const (
	entitiesPath = "/public/data/entities"
	recordsPath  = "/public/data/records"
	userAgent    = "SignalFlow-DataSourceSubscriber/1.0"

	// 上游要求的时间格式，毫秒精度。
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Record 是上游返回的原始记录。
type Record struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Data     struct {
		Content string `json:"content"`
	} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
	Version   string                 `json:"version"`
	Hash      string                 `json:"hash,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// ToSourceRecord 结合实体信息将上游记录转换为流水线输入。
func (r Record) ToSourceRecord(entity models.EntityInfo) models.SourceRecord {
	kind := entity.DataType
	if !kind.Valid() {
		kind = models.SourceKindInfo
	}
	return models.SourceRecord{
		RecordID:   r.ID,
		EntityID:   r.EntityID,
		EntityName: entity.Name(),
		Kind:       kind,
		Content:    r.Data.Content,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
	}
}

// QueryOptions 是记录查询参数。
type QueryOptions struct {
	EntityID       string
	Limit          int
	Offset         int
	AfterTimestamp *time.Time
}

// apiResponse 是上游统一的响应结构。
type apiResponse struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// Client 是上游数据源的 HTTP 客户端，请求经过令牌桶节流与熔断保护。
type Client struct {
	baseURL string
	apiKey  string
	http    *pkghttp.Client
	log     *logger.Logger
}

// NewClient 根据数据源配置创建客户端。
func NewClient(cfg config.DataSourceConfig, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("datasource baseURL is not configured")
	}
	log = log.Component("datasource-client")

	opts := []pkghttp.ClientOption{
		pkghttp.WithTimeout(config.Duration(cfg.RequestTimeout, 30*time.Second)),
		pkghttp.WithBreakerOptions(circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			log.WithField("from", from.String()).WithField("to", to.String()).Warn("upstream circuit breaker state changed")
		})),
	}
	if cfg.RateLimiter.Rate > 0 {
		opts = append(opts, pkghttp.WithLimiter(ratelimiter.NewTokenBucket(cfg.RateLimiter.Rate, cfg.RateLimiter.Capacity)))
	}
	httpClient, err := pkghttp.NewClient(cfg.CircuitBreaker, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datasource http client: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		log:     log,
	}, nil
}

// Entities 获取可订阅的实体列表。
func (c *Client) Entities(ctx context.Context) ([]models.EntityInfo, error) {
	var entities []models.EntityInfo
	if err := c.get(ctx, entitiesPath, nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// QueryRecords 查询记录，上游按 createdAt 升序返回 afterTimestamp 之后（含）的记录。
func (c *Client) QueryRecords(ctx context.Context, opts QueryOptions) ([]Record, error) {
	params := url.Values{}
	if opts.EntityID != "" {
		params.Set("entityId", opts.EntityID)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.AfterTimestamp != nil {
		params.Set("afterTimestamp", opts.AfterTimestamp.UTC().Format(timestampLayout))
	}

	var records []Record
	if err := c.get(ctx, recordsPath, params, &records); err != nil {
		return nil, err
	}
	if len(records) > 0 {
		c.log.WithField("entity_id", opts.EntityID).WithField("count", len(records)).Debug("records received")
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &SubscriptionError{Kind: ErrorKindRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var statusErr *pkghttp.StatusError
		if errors.As(err, &statusErr) {
			return &SubscriptionError{Kind: ErrorKindHTTP, StatusCode: statusErr.StatusCode, Err: err}
		}
		return &SubscriptionError{Kind: ErrorKindRequest, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SubscriptionError{Kind: ErrorKindRequest, Err: err}
	}

	// 非 JSON 响应（例如纯文本的 "Too many requests"）作为错误信息。
	var payload apiResponse
	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")
	if isJSON {
		if err := json.Unmarshal(body, &payload); err != nil {
			isJSON = false
		}
	}
	if !isJSON {
		payload = apiResponse{Message: strings.TrimSpace(string(body))}
		if payload.Message == "" {
			payload.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &SubscriptionError{Kind: ErrorKindRateLimited, StatusCode: resp.StatusCode, Message: "rate limit exceeded - too many requests"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload.Message
		if msg == "" {
			msg = "request failed"
		}
		return &SubscriptionError{Kind: ErrorKindHTTP, StatusCode: resp.StatusCode, Message: msg}
	}
	if !payload.Success {
		msg := payload.Message
		if msg == "" {
			msg = "api request failed"
		}
		return &SubscriptionError{Kind: ErrorKindAPI, Message: msg}
	}

	if out == nil || len(payload.Data) == 0 || string(payload.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload.Data, out); err != nil {
		return &SubscriptionError{Kind: ErrorKindRequest, Err: fmt.Errorf("decoding response data: %w", err)}
	}
	return nil
}
