package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/wire"
)

// Config configures a Client
type Config struct {
	Endpoint   string       // http(s) url of the GraphQL endpoint
	HTTPClient *http.Client // nil selects http.DefaultClient
	Header     http.Header  // Sent on every request and on the websocket handshake
	Stream     WSConfig
}

// Client is a typed facade over a Router wired with both transports.
type Client struct {
	router *Router
	http   *HTTPTransport
	ws     *WSTransport
}

// New creates a client for config.Endpoint. The websocket url is derived
// from it by switching the scheme.
func New(config Config) (*Client, error) {
	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	wsURL := *u
	switch u.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid endpoint scheme %q: expected http or https", u.Scheme)
	}

	streamCfg := config.Stream
	if streamCfg.Header == nil {
		streamCfg.Header = config.Header
	}

	h := NewHTTPTransport(u.String(), config.HTTPClient, config.Header)
	ws := NewWSTransport(wsURL.String(), streamCfg)
	return &Client{
		router: NewRouter(h, ws),
		http:   h,
		ws:     ws,
	}, nil
}

// Router exposes the underlying router for arbitrary operations.
func (c *Client) Router() *Router {
	return c.router
}

// Records returns every record in creation order.
func (c *Client) Records(ctx context.Context) ([]record.Record, error) {
	res, err := c.router.Do(ctx, wire.ListRecords())
	if err != nil {
		return nil, err
	}
	var data wire.ListRecordsData
	if err := res.Decode(&data); err != nil {
		return nil, err
	}
	return data.Records, nil
}

// Create appends a record with the given content.
func (c *Client) Create(ctx context.Context, content string) (record.Record, error) {
	res, err := c.router.Do(ctx, wire.CreateRecord(content))
	if err != nil {
		return record.Record{}, err
	}
	var data wire.CreateRecordData
	if err := res.Decode(&data); err != nil {
		return record.Record{}, err
	}
	return data.CreateRecord, nil
}

// WatchRecords subscribes to records created from now on.
func (c *Client) WatchRecords(ctx context.Context) (*RecordWatch, error) {
	res, err := c.router.Do(ctx, wire.RecordCreated())
	if err != nil {
		return nil, err
	}
	return &RecordWatch{sub: res.Subscription}, nil
}

// Close closes the streaming connection and ends every subscription.
func (c *Client) Close() error {
	return c.ws.Close()
}

// RecordWatch yields newly created records.
type RecordWatch struct {
	sub *Subscription
}

// Next blocks until the next record arrives.
func (w *RecordWatch) Next(ctx context.Context) (record.Record, error) {
	p, err := w.sub.Next(ctx)
	if err != nil {
		return record.Record{}, err
	}
	var data wire.RecordCreatedData
	if err := p.Decode(&data); err != nil {
		return record.Record{}, err
	}
	return data.RecordCreated, nil
}

// Close stops the subscription.
func (w *RecordWatch) Close() error {
	return w.sub.Close()
}
