package commerce

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

	"github.com/tayteboss/bfl/internal/domain"
)

const (
	defaultTimeout      = 8 * time.Second
	accessTokenHeader   = "X-Storefront-Access-Token"
	requestedWithHeader = "X-Requested-With"
	maxBody             = 1 << 20
	cartCookie          = "cart"
)

type cartTokenKey struct{}

// WithCartToken scopes cart requests made with ctx to the shopper's cart.
func WithCartToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, cartTokenKey{}, strings.TrimSpace(token))
}

// CartToken returns the cart token carried by ctx.
func CartToken(ctx context.Context) string {
	token, _ := ctx.Value(cartTokenKey{}).(string)
	return token
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Client talks to the storefront cart and product endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	now     func() time.Time
}

// NewClient constructs a commerce client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("commerce: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("commerce: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(opts.AccessToken),
		http:    httpClient,
		now:     now,
	}, nil
}

// AddItems posts every item in one request so the backend applies them atomically.
func (c *Client) AddItems(ctx context.Context, req domain.CartAddRequest) (domain.CartAddResponse, error) {
	if len(req.Items) == 0 {
		return domain.CartAddResponse{}, fmt.Errorf("%w: no items", ErrCartRejected)
	}
	var out domain.CartAddResponse
	if err := c.do(ctx, http.MethodPost, "/cart/add.js", nil, req, &out); err != nil {
		return domain.CartAddResponse{}, err
	}
	return out, nil
}

// Cart fetches a fresh snapshot, bypassing intermediary caches.
func (c *Client) Cart(ctx context.Context) (domain.Cart, error) {
	query := url.Values{"t": []string{strconv.FormatInt(c.now().UnixMilli(), 10)}}
	var out domain.Cart
	if err := c.do(ctx, http.MethodGet, "/cart.js", query, nil, &out); err != nil {
		return domain.Cart{}, err
	}
	return out, nil
}

// Update sets line quantities keyed by line key; zero removes the line.
func (c *Client) Update(ctx context.Context, updates map[string]int) (domain.Cart, error) {
	if len(updates) == 0 {
		return c.Cart(ctx)
	}
	body := map[string]any{"updates": updates}
	var out domain.Cart
	if err := c.do(ctx, http.MethodPost, "/cart/update.js", nil, body, &out); err != nil {
		return domain.Cart{}, err
	}
	return out, nil
}

type productPayload struct {
	Handle   string           `json:"handle"`
	Variants []variantPayload `json:"variants"`
}

type variantPayload struct {
	ID        int64           `json:"id"`
	Price     json.RawMessage `json:"price"`
	Title     string          `json:"title"`
	Available *bool           `json:"available"`
}

// ProductVariants lists a product's variants with prices in minor units.
func (c *Client) ProductVariants(ctx context.Context, handle string) ([]domain.Variant, error) {
	handle = strings.Trim(strings.TrimSpace(handle), "/")
	if handle == "" {
		return nil, errors.New("commerce: product handle is required")
	}
	var out productPayload
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(handle)+".js", nil, nil, &out); err != nil {
		return nil, err
	}
	variants := make([]domain.Variant, 0, len(out.Variants))
	for _, v := range out.Variants {
		price, err := domain.ParseMinorPrice(v.Price)
		if err != nil {
			return nil, fmt.Errorf("commerce: product %s variant %d: %w", handle, v.ID, err)
		}
		variants = append(variants, domain.Variant{ID: v.ID, Price: price, Title: strings.TrimSpace(v.Title)})
	}
	return variants, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestedWithHeader, "XMLHttpRequest")
	if c.token != "" {
		req.Header.Set(accessTokenHeader, c.token)
	}
	if token := CartToken(ctx); token != "" {
		req.AddCookie(&http.Cookie{Name: cartCookie, Value: token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return transportError(err)
	}
	var envelope errorPayload
	structured := json.Unmarshal(data, &envelope) == nil
	if resp.StatusCode >= 400 {
		if !structured {
			envelope = errorPayload{}
		}
		return newCartError(resp.StatusCode, envelope)
	}
	if structured && envelope.isError() {
		return newCartError(http.StatusUnprocessableEntity, envelope)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
