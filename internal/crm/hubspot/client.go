// Package hubspot is a minimal client for the HubSpot CRM v3 deals API.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	logx "dealbot/pkg/logx"
)

var (
	ErrNotFound = errors.New("hubspot: deal not found")
	ErrNoToken  = errors.New("hubspot: private app token is empty")
)

const defaultBaseURL = "https://api.hubapi.com"

// Properties names the deal properties this bot reads. Only Title has a fixed name.
type Properties struct {
	Owner    string
	Location string
	Gating   string
	Terminal string
	// Extra properties fetched for rendering only.
	Extra []string
}

type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Props   Properties
}

// Deal is a raw deal with its properties flattened to strings.
type Deal struct {
	ID         string
	Properties map[string]string
}

func (d Deal) Prop(name string) string { return d.Properties[name] }

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hubspot %s failed: http=%d %s", e.Op, e.Status, e.Body)
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
	// Concurrent fetches of one deal (webhook burst + timer wake) share a request.
	group singleflight.Group
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Props.Owner == "" {
		cfg.Props.Owner = "hubspot_owner_id"
	}
	if cfg.Props.Location == "" {
		cfg.Props.Location = "location"
	}
	if cfg.Props.Terminal == "" {
		cfg.Props.Terminal = cfg.Props.Location
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Client) Props() Properties { return c.cfg.Props }

// propertyList is the ordered, de-duplicated list of properties requested for a deal.
func (c *Client) propertyList() []string {
	p := c.cfg.Props
	all := append([]string{"dealname", "dealstage", "amount", p.Owner, p.Location, p.Gating, p.Terminal}, p.Extra...)
	seen := map[string]bool{}
	out := make([]string, 0, len(all))
	for _, name := range all {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// GetDeal fetches a non-archived deal with the configured properties.
func (c *Client) GetDeal(ctx context.Context, id string) (Deal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Deal{}, errors.New("hubspot: empty deal id")
	}
	v, err, shared := c.group.Do(id, func() (any, error) {
		return c.getDeal(ctx, id)
	})
	if shared {
		c.log.Debug("deal fetch coalesced", logx.DealID(id))
	}
	if err != nil {
		return Deal{}, err
	}
	return v.(Deal), nil
}

func (c *Client) getDeal(ctx context.Context, id string) (Deal, error) {
	q := url.Values{}
	q.Set("properties", strings.Join(c.propertyList(), ","))
	q.Set("archived", "false")
	u := c.cfg.BaseURL + "/crm/v3/objects/deals/" + url.PathEscape(id) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Deal{}, err
	}
	var body struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	if err := c.do(req, "get deal", &body); err != nil {
		return Deal{}, err
	}

	d := Deal{ID: body.ID, Properties: make(map[string]string, len(body.Properties))}
	if d.ID == "" {
		d.ID = id
	}
	for k, v := range body.Properties {
		switch x := v.(type) {
		case nil:
		case string:
			d.Properties[k] = x
		default:
			d.Properties[k] = fmt.Sprint(x)
		}
	}
	return d, nil
}

// UpdateDeal patches deal properties.
func (c *Client) UpdateDeal(ctx context.Context, id string, props map[string]string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("hubspot: empty deal id")
	}
	b, err := json.Marshal(map[string]any{"properties": props})
	if err != nil {
		return err
	}
	u := c.cfg.BaseURL + "/crm/v3/objects/deals/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "update deal", nil)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hubspot %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.log.Debug("hubspot call", logx.String("op", op), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hubspot %s: decode: %w", op, err)
	}
	return nil
}
