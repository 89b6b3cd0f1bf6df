// Package cse talks to the Colombo Stock Exchange chart endpoint.
package cse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	appconfig "cseflow/config"
	"cseflow/logger"
	"cseflow/models"
	"cseflow/processor"
)

const chartsPath = "/api/charts"

// RecordKeys are the object fields searched, in order, for the record list.
var RecordKeys = []string{"data", "chartData", "series", "items", "rows"}

// ErrNonJSON is returned when the endpoint answers with something that is
// not a JSON document.
var ErrNonJSON = errors.New("chart endpoint returned non-JSON response")

// HTTPError carries a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 1000 {
		body = body[:1000]
	}
	return fmt.Sprintf("chart request failed with status %d: %s", e.StatusCode, body)
}

// Client posts chart requests. It does not retry.
type Client struct {
	http    *resty.Client
	base    string
	chartID int
	period  int
	log     *logger.Log
}

// NewClient builds a client from the source section of the config.
func NewClient(cfg appconfig.SourceConfig) *Client {
	base := appconfig.TrimAPISuffix(cfg.BaseURL)
	http := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.AccessToken != "" {
		http.SetHeader("Cookie", "accessToken="+cfg.AccessToken)
	}
	return &Client{
		http:    http,
		base:    base,
		chartID: cfg.ChartID,
		period:  cfg.Period,
		log:     logger.GetLogger(),
	}
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

// FetchRaw returns the response body for one symbol and date range. A
// non-2xx status yields *HTTPError; the body is still returned.
func (c *Client) FetchRaw(ctx context.Context, ticker string, start, end time.Time) ([]byte, error) {
	started := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Referer", c.base+"/company-profile?symbol="+ticker).
		SetFormData(map[string]string{
			"symbol":   ticker,
			"chartId":  strconv.Itoa(c.chartID),
			"period":   strconv.Itoa(c.period),
			"fromDate": epochMillis(start),
			"toDate":   epochMillis(end),
		}).
		Post(chartsPath)
	if err != nil {
		return nil, fmt.Errorf("chart request for %s: %w", ticker, err)
	}

	body := resp.Body()
	c.log.WithComponent("cse_client").WithFields(logger.Fields{
		"ticker":      ticker,
		"status":      resp.StatusCode(),
		"bytes":       len(body),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("chart response")

	if !resp.IsSuccess() {
		return body, &HTTPError{StatusCode: resp.StatusCode(), Body: string(body)}
	}
	return body, nil
}

// Records extracts the record list from a chart response body. A valid
// document with no recognised list yields no records.
func Records(body []byte) ([]interface{}, error) {
	if !json.Valid(body) {
		return nil, ErrNonJSON
	}
	doc, err := processor.ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonJSON, err)
	}
	records, _ := processor.RecordListByKeys(doc, RecordKeys...)
	return records, nil
}

// Fetch downloads and normalizes one symbol's chart for [start, end].
// Rows come back in trade date order.
func (c *Client) Fetch(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceRow, error) {
	body, err := c.FetchRaw(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	records, err := Records(body)
	if err != nil {
		return nil, err
	}
	return processor.NormalizeRecords(ticker, records), nil
}
