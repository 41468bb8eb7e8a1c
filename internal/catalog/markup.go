package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tayteboss/bfl/internal/domain"
)

// ImportMarkup builds a catalog from the theme's server-rendered film service form. Service
// blocks are `.service-groups-block[data-for-service]`, groups are `.option-group[data-group-title]`
// and options are radio inputs carrying data-price and the rule attributes. An option group whose
// radios use several input names is the aggregate group; each name is one cluster.
func ImportMarkup(r io.Reader) (*Catalog, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse markup: %w", err)
	}
	cat := &Catalog{}
	if sym, ok := doc.Find("[data-currency-symbol]").First().Attr("data-currency-symbol"); ok {
		cat.Symbol = strings.TrimSpace(sym)
	}
	if raw, ok := doc.Find("[data-price-ceiling]").First().Attr("data-price-ceiling"); ok {
		ceiling, err := domain.ParseDecimal(raw)
		if err != nil {
			cat.attrDiagnostic("data-price-ceiling", raw, err)
		}
		cat.PriceCeiling = ceiling
	}
	if raw, ok := doc.Find("[data-max-quantity]").First().Attr("data-max-quantity"); ok {
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			cat.attrDiagnostic("data-max-quantity", raw, err)
		}
		cat.MaxQuantity = limit
	}
	shipping := doc.Find("[data-return-shipping-variant]").First()
	if shipping.Length() > 0 {
		raw := shipping.AttrOr("data-return-shipping-variant", "")
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			cat.attrDiagnostic("data-return-shipping-variant", raw, err)
		}
		cat.ReturnShipping = ReturnShipping{
			VariantID:    id,
			TriggerKey:   shipping.AttrOr("data-trigger-group", ""),
			TriggerValue: strings.TrimSpace(shipping.AttrOr("data-trigger-value", "")),
		}
	}

	titles := map[string]string{}
	bases := map[string]int64{}
	doc.Find("input[data-service-id]").Each(func(_ int, sel *goquery.Selection) {
		id := strings.TrimSpace(sel.AttrOr("data-service-id", ""))
		if id == "" {
			return
		}
		titles[id] = firstNonEmpty(sel.AttrOr("data-service-title", ""), labelFor(doc, sel), id)
		if base, err := domain.ParseDecimal(sel.AttrOr("data-service-base", "0")); err == nil {
			bases[id] = base
		}
	})

	doc.Find(".service-groups-block[data-for-service]").Each(func(_ int, block *goquery.Selection) {
		id := strings.TrimSpace(block.AttrOr("data-for-service", ""))
		svc := Service{
			ID:          id,
			Title:       firstNonEmpty(titles[id], id),
			Description: strings.TrimSpace(block.AttrOr("data-service-description", "")),
			BasePrice:   bases[id],
		}
		if raw, ok := block.Attr("data-service-base"); ok {
			if base, err := domain.ParseDecimal(raw); err == nil {
				svc.BasePrice = base
			}
		}
		block.Find(".option-group[data-group-title]").Each(func(_ int, group *goquery.Selection) {
			svc.Groups = append(svc.Groups, cat.markupGroup(doc, id, group))
		})
		cat.Services = append(cat.Services, svc)
	})

	var carrierErr error
	doc.Find("script[data-carrier]").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		pool, err := markupPool(script)
		if err != nil {
			carrierErr = err
			return false
		}
		cat.Pools = append(cat.Pools, pool)
		return true
	})
	if carrierErr != nil {
		return nil, carrierErr
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) markupGroup(doc *goquery.Document, serviceID string, group *goquery.Selection) Group {
	title := strings.TrimSpace(group.AttrOr("data-group-title", ""))
	g := Group{
		Name:     title,
		Key:      CanonicalKey(title),
		Label:    strings.TrimSpace(group.AttrOr("data-group-label", "")),
		Required: group.AttrOr("data-required", "true") != "false",
	}
	g.ShowIf = c.attrRule(serviceID, g.Key, "", RuleShowIf, group.AttrOr("data-show-if", "")).Condition

	inputs := group.Find(`input[type="radio"]`)
	var names []string
	byName := map[string]*goquery.Selection{}
	inputs.Each(func(_ int, input *goquery.Selection) {
		name := strings.TrimSpace(input.AttrOr("name", ""))
		if existing, ok := byName[name]; ok {
			byName[name] = existing.AddSelection(input)
			return
		}
		names = append(names, name)
		byName[name] = input
	})
	if len(names) <= 1 {
		inputs.Each(func(_ int, input *goquery.Selection) {
			g.Options = append(g.Options, c.markupOption(doc, serviceID, g.Key, input))
		})
		return g
	}
	for _, name := range names {
		members := byName[name]
		sub := Group{
			Name:     firstNonEmpty(members.First().AttrOr("data-cluster-title", ""), name),
			Required: members.First().AttrOr("data-required", "true") != "false",
		}
		sub.Key = CanonicalKey(sub.Name)
		members.Each(func(_ int, input *goquery.Selection) {
			sub.Options = append(sub.Options, c.markupOption(doc, serviceID, sub.Key, input))
		})
		g.SubGroups = append(g.SubGroups, sub)
	}
	return g
}

func (c *Catalog) markupOption(doc *goquery.Document, serviceID, key string, input *goquery.Selection) Option {
	value := strings.TrimSpace(input.AttrOr("value", ""))
	opt := Option{
		Value:         value,
		Label:         firstNonEmpty(input.AttrOr("data-label", ""), labelFor(doc, input)),
		Description:   strings.TrimSpace(input.AttrOr("data-description", "")),
		Sentinel:      boolAttr(input, "data-sentinel"),
		StaticDefault: boolAttr(input, "data-static-default"),
	}
	if raw := strings.TrimSpace(input.AttrOr("data-price", "")); raw != "" {
		if price, err := domain.ParseDecimal(raw); err == nil {
			opt.Price = price
		}
	}
	opt.ShowIf = c.attrRule(serviceID, key, value, RuleShowIf, input.AttrOr("data-show-if", "")).Condition
	opt.DefaultIf = c.attrRule(serviceID, key, value, RuleDefaultIf, input.AttrOr("data-default-if", "")).Condition
	opt.PriceOverrides = c.attrRule(serviceID, key, value, RulePriceOverride, input.AttrOr("data-price-overrides", "")).Overrides
	return opt
}

func (c *Catalog) attrRule(serviceID, group, option string, kind RuleKind, raw string) Rule {
	rule, err := ParseRule(kind, raw)
	if err != nil {
		c.Diagnostics = append(c.Diagnostics, RuleDiagnostic{
			Service: serviceID,
			Group:   group,
			Option:  option,
			Kind:    kind,
			Raw:     raw,
			Err:     err,
		})
	}
	return rule
}

// attrDiagnostic records a catalog-level attribute that could not be parsed. The setting falls
// back to its zero value, which the catalog treats as unset.
func (c *Catalog) attrDiagnostic(attr, raw string, err error) {
	c.Diagnostics = append(c.Diagnostics, RuleDiagnostic{
		Group: attr,
		Kind:  RuleAttribute,
		Raw:   raw,
		Err:   err,
	})
}

type markupVariant struct {
	ID    int64           `json:"id"`
	Price json.RawMessage `json:"price"`
	Title string          `json:"title"`
}

func markupPool(script *goquery.Selection) (domain.Pool, error) {
	pool := domain.Pool{
		Name:      strings.TrimSpace(script.AttrOr("data-carrier", "")),
		Handle:    strings.TrimSpace(script.AttrOr("data-carrier-handle", "")),
		Truncated: boolAttr(script, "data-truncated"),
	}
	var variants []markupVariant
	if err := json.Unmarshal([]byte(script.Text()), &variants); err != nil {
		return domain.Pool{}, fmt.Errorf("%w: carrier %q: %v", ErrInvalidCatalog, pool.Name, err)
	}
	for _, v := range variants {
		price, err := domain.ParseMinorPrice(v.Price)
		if err != nil {
			return domain.Pool{}, fmt.Errorf("%w: carrier %q variant %d: %v", ErrInvalidCatalog, pool.Name, v.ID, err)
		}
		pool.Variants = append(pool.Variants, domain.Variant{ID: v.ID, Price: price, Title: v.Title})
	}
	return pool, nil
}

func labelFor(doc *goquery.Document, input *goquery.Selection) string {
	if id, ok := input.Attr("id"); ok && id != "" {
		if label := doc.Find(`label[for="` + id + `"]`).First(); label.Length() > 0 {
			return strings.TrimSpace(label.Text())
		}
	}
	if parent := input.Closest("label"); parent.Length() > 0 {
		return strings.TrimSpace(parent.Text())
	}
	return ""
}

func boolAttr(sel *goquery.Selection, name string) bool {
	raw, ok := sel.Attr(name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "true", "1", "yes":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
