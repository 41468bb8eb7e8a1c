package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tayteboss/bfl/internal/domain"
)

type catalogFile struct {
	Currency       string             `yaml:"currency"`
	Symbol         string             `yaml:"symbol"`
	PriceCeiling   float64            `yaml:"price_ceiling"`
	MaxQuantity    int                `yaml:"max_quantity"`
	ReturnShipping returnShippingFile `yaml:"return_shipping"`
	Services       []serviceFile      `yaml:"services"`
	Carriers       []carrierFile      `yaml:"carriers"`
}

type returnShippingFile struct {
	VariantID    int64  `yaml:"variant_id"`
	TriggerGroup string `yaml:"trigger_group"`
	TriggerValue string `yaml:"trigger_value"`
	PropertyName string `yaml:"property_name"`
}

type serviceFile struct {
	ID          string      `yaml:"id"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	BasePrice   float64     `yaml:"base_price"`
	Groups      []groupFile `yaml:"groups"`
}

type groupFile struct {
	Name      string       `yaml:"name"`
	Label     string       `yaml:"label"`
	Required  *bool        `yaml:"required"`
	ShowIf    yaml.Node    `yaml:"show_if"`
	Options   []optionFile `yaml:"options"`
	SubGroups []groupFile  `yaml:"sub_groups"`
}

type optionFile struct {
	Value          string    `yaml:"value"`
	Label          string    `yaml:"label"`
	Description    string    `yaml:"description"`
	Price          float64   `yaml:"price"`
	Sentinel       bool      `yaml:"sentinel"`
	StaticDefault  bool      `yaml:"static_default"`
	ShowIf         yaml.Node `yaml:"show_if"`
	DefaultIf      yaml.Node `yaml:"default_if"`
	PriceOverrides yaml.Node `yaml:"price_overrides"`
}

type carrierFile struct {
	Name      string        `yaml:"name"`
	Handle    string        `yaml:"handle"`
	Truncated bool          `yaml:"truncated"`
	Variants  []variantFile `yaml:"variants"`
}

type variantFile struct {
	ID    int64  `yaml:"id"`
	Price int64  `yaml:"price"`
	Title string `yaml:"title"`
}

// LoadFile reads and validates a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a YAML catalog. Rule fields may be YAML maps or legacy JSON strings; rules that
// fail to decode are dropped and reported in Catalog.Diagnostics.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	cat := &Catalog{
		Currency:     strings.ToUpper(strings.TrimSpace(file.Currency)),
		Symbol:       strings.TrimSpace(file.Symbol),
		PriceCeiling: domain.ToMinor(file.PriceCeiling),
		MaxQuantity:  file.MaxQuantity,
		ReturnShipping: ReturnShipping{
			VariantID:    file.ReturnShipping.VariantID,
			TriggerKey:   file.ReturnShipping.TriggerGroup,
			TriggerValue: strings.TrimSpace(file.ReturnShipping.TriggerValue),
			PropertyName: strings.TrimSpace(file.ReturnShipping.PropertyName),
		},
	}
	for _, sf := range file.Services {
		svc := Service{
			ID:          strings.TrimSpace(sf.ID),
			Title:       strings.TrimSpace(sf.Title),
			Description: strings.TrimSpace(sf.Description),
			BasePrice:   domain.ToMinor(sf.BasePrice),
		}
		for _, gf := range sf.Groups {
			svc.Groups = append(svc.Groups, cat.buildGroup(svc.ID, gf))
		}
		cat.Services = append(cat.Services, svc)
	}
	for _, cf := range file.Carriers {
		pool := domain.Pool{Name: strings.TrimSpace(cf.Name), Handle: strings.TrimSpace(cf.Handle), Truncated: cf.Truncated}
		for _, vf := range cf.Variants {
			pool.Variants = append(pool.Variants, domain.Variant{ID: vf.ID, Price: vf.Price, Title: vf.Title})
		}
		cat.Pools = append(cat.Pools, pool)
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) buildGroup(serviceID string, gf groupFile) Group {
	g := Group{
		Name:     strings.TrimSpace(gf.Name),
		Label:    strings.TrimSpace(gf.Label),
		Required: gf.Required == nil || *gf.Required,
	}
	g.Key = CanonicalKey(g.Name)
	g.ShowIf = c.nodeRule(serviceID, g.Key, "", RuleShowIf, &gf.ShowIf).Condition
	for _, sub := range gf.SubGroups {
		g.SubGroups = append(g.SubGroups, c.buildGroup(serviceID, sub))
	}
	for _, of := range gf.Options {
		opt := Option{
			Value:         strings.TrimSpace(of.Value),
			Label:         strings.TrimSpace(of.Label),
			Description:   strings.TrimSpace(of.Description),
			Price:         domain.ToMinor(of.Price),
			Sentinel:      of.Sentinel,
			StaticDefault: of.StaticDefault,
		}
		opt.ShowIf = c.nodeRule(serviceID, g.Key, opt.Value, RuleShowIf, &of.ShowIf).Condition
		opt.DefaultIf = c.nodeRule(serviceID, g.Key, opt.Value, RuleDefaultIf, &of.DefaultIf).Condition
		opt.PriceOverrides = c.nodeRule(serviceID, g.Key, opt.Value, RulePriceOverride, &of.PriceOverrides).Overrides
		g.Options = append(g.Options, opt)
	}
	return g
}

func (c *Catalog) nodeRule(serviceID, group, option string, kind RuleKind, node *yaml.Node) Rule {
	rule, err := ruleFromNode(kind, node)
	if err != nil {
		c.Diagnostics = append(c.Diagnostics, RuleDiagnostic{
			Service: serviceID,
			Group:   group,
			Option:  option,
			Kind:    kind,
			Raw:     node.Value,
			Err:     err,
		})
		return Rule{Kind: kind}
	}
	return rule
}

func ruleFromNode(kind RuleKind, node *yaml.Node) (Rule, error) {
	switch node.Kind {
	case 0:
		return Rule{Kind: kind}, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return Rule{Kind: kind}, nil
		}
		return ParseRule(kind, node.Value)
	case yaml.MappingNode:
	default:
		return Rule{Kind: kind}, fmt.Errorf("%w: expected mapping at line %d", ErrMalformedRule, node.Line)
	}
	rule := Rule{Kind: kind}
	pairs := node.Content
	switch kind {
	case RuleShowIf, RuleDefaultIf:
		var clauses []Clause
		for i := 0; i+1 < len(pairs); i += 2 {
			values, err := nodeValues(pairs[i+1])
			if err != nil {
				return Rule{Kind: kind}, err
			}
			clauses = append(clauses, NewClause(pairs[i].Value, values))
		}
		if len(clauses) > 0 {
			rule.Condition = &Condition{Clauses: clauses}
		}
	case RulePriceOverride:
		for i := 0; i+1 < len(pairs); i += 2 {
			inner := pairs[i+1]
			if inner.Kind != yaml.MappingNode {
				return Rule{Kind: kind}, fmt.Errorf("%w: override %q must map values to prices", ErrMalformedRule, pairs[i].Value)
			}
			override := PriceOverride{Key: CanonicalKey(pairs[i].Value)}
			for j := 0; j+1 < len(inner.Content); j += 2 {
				price, err := domain.ParseDecimal(inner.Content[j+1].Value)
				if err != nil {
					return Rule{Kind: kind}, fmt.Errorf("%w: %v", ErrMalformedRule, err)
				}
				override.Prices = append(override.Prices, PricePoint{Value: strings.TrimSpace(inner.Content[j].Value), Price: price})
			}
			if len(override.Prices) > 0 {
				rule.Overrides = append(rule.Overrides, override)
			}
		}
	}
	return rule, nil
}

func nodeValues(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: allowed values must be scalars (line %d)", ErrMalformedRule, item.Line)
			}
			values = append(values, item.Value)
		}
		return values, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []string{node.Value}, nil
	default:
		return nil, fmt.Errorf("%w: allowed values must be a list (line %d)", ErrMalformedRule, node.Line)
	}
}
