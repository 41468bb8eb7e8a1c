package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Origin records how a cluster selection came to be.
type Origin string

const (
	// OriginUser marks a selection made explicitly by the shopper.
	OriginUser Origin = "user"
	// OriginConditionalDefault marks a selection forced by a matched defaultIf rule.
	OriginConditionalDefault Origin = "conditional_default"
	// OriginStaticDefault marks a selection applied from an option's static default flag.
	OriginStaticDefault Origin = "static_default"
)

// Choice is the selected option value for one single-select cluster.
type Choice struct {
	Value  string
	Origin Origin
}

// Selection maps canonical cluster keys to the current choice.
type Selection map[string]Choice

// Clone returns an independent copy of the selection.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for key, choice := range s {
		out[key] = choice
	}
	return out
}

// Equal reports whether two selections hold the same choices.
func (s Selection) Equal(other Selection) bool {
	if len(s) != len(other) {
		return false
	}
	for key, choice := range s {
		if o, ok := other[key]; !ok || o != choice {
			return false
		}
	}
	return true
}

// Value returns the selected value for the cluster key.
func (s Selection) Value(key string) (string, bool) {
	choice, ok := s[key]
	if !ok || choice.Value == "" {
		return "", false
	}
	return choice.Value, true
}

// Variant is one purchasable unit. Price is expressed in minor units.
type Variant struct {
	ID    int64
	Price int64
	Title string
}

// Pool is an ordered list of variants covering a sub-range of per-unit prices.
// Truncated marks pools whose injected listing was cut off by the storefront.
type Pool struct {
	Name      string
	Handle    string
	Variants  []Variant
	Truncated bool
}

// Range returns the [min, max] price coverage of the pool.
func (p Pool) Range() (int64, int64, bool) {
	if len(p.Variants) == 0 {
		return 0, 0, false
	}
	min, max := p.Variants[0].Price, p.Variants[0].Price
	for _, v := range p.Variants[1:] {
		if v.Price < min {
			min = v.Price
		}
		if v.Price > max {
			max = v.Price
		}
	}
	return min, max, true
}

// LineItem is one entry of a cart add request.
type LineItem struct {
	ID         int64             `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties,omitempty"`
}

// CartAddRequest is the atomic cart add payload.
type CartAddRequest struct {
	Items       []LineItem `json:"items"`
	Sections    []string   `json:"sections,omitempty"`
	SectionsURL string     `json:"sections_url,omitempty"`
}

// CartAddResponse carries the added lines and any rendered section fragments.
type CartAddResponse struct {
	Items    []CartLine        `json:"items"`
	Sections map[string]string `json:"sections,omitempty"`
}

// CartLine is one line of a cart snapshot. Properties keep the raw JSON form because the
// commerce backend emits both object and name/value array encodings.
type CartLine struct {
	Key        string          `json:"key"`
	ID         int64           `json:"id"`
	VariantID  int64           `json:"variant_id"`
	Quantity   int             `json:"quantity"`
	Title      string          `json:"title,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// PropertyMap decodes the line properties into a flat map. Both `{"k": "v"}` and
// `[{"name": "k", "value": "v"}]` encodings are accepted; undecodable properties yield an empty map.
func (l CartLine) PropertyMap() map[string]string {
	out := map[string]string{}
	raw := strings.TrimSpace(string(l.Properties))
	if raw == "" || raw == "null" {
		return out
	}
	var object map[string]any
	if err := json.Unmarshal(l.Properties, &object); err == nil {
		for k, v := range object {
			out[k] = propertyString(v)
		}
		return out
	}
	var pairs []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(l.Properties, &pairs); err == nil {
		for _, p := range pairs {
			out[p.Name] = propertyString(p.Value)
		}
	}
	return out
}

func propertyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Cart is a live snapshot of the shopper's cart.
type Cart struct {
	Token         string     `json:"token,omitempty"`
	Items         []CartLine `json:"items"`
	ItemCount     int        `json:"item_count"`
	TotalQuantity int        `json:"total_quantity,omitempty"`
}

// HasVariant reports whether any line references the variant id.
func (c Cart) HasVariant(id int64) bool {
	_, ok := c.Line(id)
	return ok
}

// Line returns the first line for the variant id.
func (c Cart) Line(id int64) (CartLine, bool) {
	for _, line := range c.Items {
		if line.ID == id || line.VariantID == id {
			return line, true
		}
	}
	return CartLine{}, false
}

// CartUpdatedEvent is published after the cart changes.
type CartUpdatedEvent struct {
	Source      string    `json:"source"`
	VariantID   int64     `json:"productVariantId,omitempty"`
	CartData    Cart      `json:"cartData"`
	PublishedAt time.Time `json:"publishedAt"`
}

// CartErrorEvent is published when the commerce backend rejects a cart mutation.
type CartErrorEvent struct {
	Source    string `json:"source"`
	VariantID int64  `json:"productVariantId,omitempty"`
	Message   string `json:"message"`
}
