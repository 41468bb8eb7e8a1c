package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tayteboss/bfl/internal/domain"
)

// ErrInvalidCatalog is returned when catalog data fails structural validation.
var ErrInvalidCatalog = errors.New("catalog: invalid catalog")

const (
	defaultCurrency     = "USD"
	defaultSymbol       = "$"
	defaultPriceCeiling = int64(200000)
	defaultMaxQuantity  = 99
)

// Catalog is the immutable description of every service the form can configure.
type Catalog struct {
	Currency       string
	Symbol         string
	PriceCeiling   int64
	MaxQuantity    int
	ReturnShipping ReturnShipping
	Services       []Service
	Pools          []domain.Pool
	Diagnostics    []RuleDiagnostic

	byID map[string]int
}

// ReturnShipping identifies the companion unit added when a line asks for its negatives back.
type ReturnShipping struct {
	VariantID    int64
	TriggerKey   string
	TriggerValue string
	PropertyName string
}

// Enabled reports whether the catalog configures a return-shipping unit.
func (r ReturnShipping) Enabled() bool {
	return r.VariantID > 0 && r.TriggerKey != ""
}

// Triggered reports whether sel requests return shipping.
func (r ReturnShipping) Triggered(sel domain.Selection) bool {
	if !r.Enabled() {
		return false
	}
	value, ok := sel.Value(r.TriggerKey)
	return ok && NormalizeValue(value) == NormalizeValue(r.TriggerValue)
}

// Service is one selectable film service and its option blocks.
type Service struct {
	ID          string
	Title       string
	Description string
	BasePrice   int64
	Groups      []Group

	clusters map[string]*Group
	order    []string
}

// Group is a named set of mutually exclusive options. An aggregate group holds sub-groups
// (its clusters) instead of options.
type Group struct {
	Name      string
	Key       string
	Label     string
	Required  bool
	ShowIf    *Condition
	Options   []Option
	SubGroups []Group
}

// Aggregate reports whether the group is a container of clusters.
func (g *Group) Aggregate() bool {
	return len(g.SubGroups) > 0
}

// DisplayLabel returns the heading shown for the group.
func (g *Group) DisplayLabel() string {
	if g.Label != "" {
		return g.Label
	}
	return g.Name
}

// Option returns the option matching value case-insensitively.
func (g *Group) Option(value string) (*Option, bool) {
	normalized := NormalizeValue(value)
	for i := range g.Options {
		if NormalizeValue(g.Options[i].Value) == normalized {
			return &g.Options[i], true
		}
	}
	return nil, false
}

// StaticDefault returns the option flagged as the cluster's static default.
func (g *Group) StaticDefault() (*Option, bool) {
	for i := range g.Options {
		if g.Options[i].StaticDefault {
			return &g.Options[i], true
		}
	}
	return nil, false
}

// Option is one choice within a cluster.
type Option struct {
	Value          string
	Label          string
	Description    string
	Price          int64
	Sentinel       bool
	StaticDefault  bool
	ShowIf         *Condition
	DefaultIf      *Condition
	PriceOverrides []PriceOverride
}

// DisplayLabel returns the label shown to customers, falling back to the value.
func (o *Option) DisplayLabel() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Value
}

// Service looks up a service by id.
func (c *Catalog) Service(id string) (*Service, bool) {
	if c == nil {
		return nil, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.Services[idx], true
}

// Cluster returns the cluster (a plain group or an aggregate's sub-group) with the given canonical key.
func (s *Service) Cluster(key string) (*Group, bool) {
	g, ok := s.clusters[CanonicalKey(key)]
	return g, ok
}

// ClusterKeys lists cluster keys in render order.
func (s *Service) ClusterKeys() []string {
	return append([]string(nil), s.order...)
}

// HasCluster reports whether the block renders inputs for key.
func (s *Service) HasCluster(key string) bool {
	_, ok := s.clusters[key]
	return ok
}

// index builds lookup tables and validates uniqueness. It must run before the catalog is shared.
func (c *Catalog) index() error {
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.Symbol == "" {
		c.Symbol = defaultSymbol
	}
	if c.PriceCeiling <= 0 {
		c.PriceCeiling = defaultPriceCeiling
	}
	if c.MaxQuantity <= 0 {
		c.MaxQuantity = defaultMaxQuantity
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: no services defined", ErrInvalidCatalog)
	}
	c.byID = make(map[string]int, len(c.Services))
	for i := range c.Services {
		svc := &c.Services[i]
		if svc.ID == "" {
			return fmt.Errorf("%w: service %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[svc.ID]; dup {
			return fmt.Errorf("%w: duplicate service %q", ErrInvalidCatalog, svc.ID)
		}
		if svc.BasePrice < 0 {
			return fmt.Errorf("%w: service %q has a negative base price", ErrInvalidCatalog, svc.ID)
		}
		c.byID[svc.ID] = i
		if err := svc.index(); err != nil {
			return err
		}
	}
	for _, pool := range c.Pools {
		for _, v := range pool.Variants {
			if v.ID <= 0 || v.Price <= 0 {
				return fmt.Errorf("%w: pool %q has invalid variant %d", ErrInvalidCatalog, pool.Name, v.ID)
			}
		}
	}
	if c.ReturnShipping.VariantID > 0 {
		c.ReturnShipping.TriggerKey = CanonicalKey(c.ReturnShipping.TriggerKey)
		if c.ReturnShipping.TriggerKey == "" {
			return fmt.Errorf("%w: return shipping needs a trigger group", ErrInvalidCatalog)
		}
		if c.ReturnShipping.TriggerValue == "" {
			c.ReturnShipping.TriggerValue = "Yes"
		}
		if c.ReturnShipping.PropertyName == "" {
			c.ReturnShipping.PropertyName = "_return_shipping_required"
		}
	}
	return nil
}

func (s *Service) index() error {
	s.clusters = make(map[string]*Group)
	s.order = s.order[:0]
	var add func(g *Group) error
	add = func(g *Group) error {
		if g.Key == "" {
			g.Key = CanonicalKey(g.Name)
		}
		if g.Key == "" {
			return fmt.Errorf("%w: service %q has an unnamed group", ErrInvalidCatalog, s.ID)
		}
		if g.Aggregate() {
			if len(g.Options) > 0 {
				return fmt.Errorf("%w: group %q mixes options and sub-groups", ErrInvalidCatalog, g.Name)
			}
			for i := range g.SubGroups {
				if err := add(&g.SubGroups[i]); err != nil {
					return err
				}
			}
			return nil
		}
		if _, dup := s.clusters[g.Key]; dup {
			return fmt.Errorf("%w: service %q repeats group %q", ErrInvalidCatalog, s.ID, g.Key)
		}
		seen := make(map[string]struct{}, len(g.Options))
		defaults := 0
		for _, opt := range g.Options {
			n := NormalizeValue(opt.Value)
			if n == "" {
				return fmt.Errorf("%w: group %q has an empty option value", ErrInvalidCatalog, g.Key)
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("%w: group %q repeats option %q", ErrInvalidCatalog, g.Key, opt.Value)
			}
			seen[n] = struct{}{}
			if opt.StaticDefault {
				defaults++
			}
		}
		if defaults > 1 {
			return fmt.Errorf("%w: group %q has %d static defaults", ErrInvalidCatalog, g.Key, defaults)
		}
		s.clusters[g.Key] = g
		s.order = append(s.order, g.Key)
		return nil
	}
	for i := range s.Groups {
		if err := add(&s.Groups[i]); err != nil {
			return err
		}
	}
	return nil
}

// ServiceIDs returns every service id sorted for stable listings.
func (c *Catalog) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// Overrides are deployment settings that win over values carried in the catalog source.
// Zero fields leave the catalog value alone.
type Overrides struct {
	PriceCeiling   int64
	ReturnShipping ReturnShipping
}

// ApplyOverrides merges o into the catalog and re-validates it.
func (c *Catalog) ApplyOverrides(o Overrides) error {
	if o.PriceCeiling > 0 {
		c.PriceCeiling = o.PriceCeiling
	}
	rs := o.ReturnShipping
	if rs.VariantID > 0 {
		c.ReturnShipping.VariantID = rs.VariantID
	}
	if rs.TriggerKey != "" {
		c.ReturnShipping.TriggerKey = rs.TriggerKey
	}
	if rs.TriggerValue != "" {
		c.ReturnShipping.TriggerValue = rs.TriggerValue
	}
	if rs.PropertyName != "" {
		c.ReturnShipping.PropertyName = rs.PropertyName
	}
	return c.index()
}
