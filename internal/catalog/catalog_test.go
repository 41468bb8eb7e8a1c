package catalog

import (
	"errors"
	"strings"
	"testing"
)

func loadFixture(t *testing.T) *Catalog {
	t.Helper()
	cat, err := LoadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	return cat
}

func TestLoadFileBuildsTypedCatalog(t *testing.T) {
	cat := loadFixture(t)

	if cat.Currency != "USD" || cat.Symbol != "$" {
		t.Fatalf("unexpected currency %q %q", cat.Currency, cat.Symbol)
	}
	if cat.PriceCeiling != 200000 || cat.MaxQuantity != 20 {
		t.Fatalf("unexpected limits ceiling=%d max=%d", cat.PriceCeiling, cat.MaxQuantity)
	}
	if !cat.ReturnShipping.Enabled() || cat.ReturnShipping.TriggerKey != "negatives-shipped-back" {
		t.Fatalf("unexpected return shipping %+v", cat.ReturnShipping)
	}
	if cat.ReturnShipping.PropertyName != "_return_shipping_required" {
		t.Fatalf("expected default property name, got %q", cat.ReturnShipping.PropertyName)
	}

	svc, ok := cat.Service("develop-scan")
	if !ok {
		t.Fatalf("expected develop-scan service")
	}
	if svc.BasePrice != 2100 {
		t.Fatalf("expected base price 2100, got %d", svc.BasePrice)
	}
	wantOrder := []string{"film-development-format", "scan-resolution", "push-pull", "negatives-shipped-back", "sleeving"}
	got := svc.ClusterKeys()
	if strings.Join(got, ",") != strings.Join(wantOrder, ",") {
		t.Fatalf("cluster order = %v, want %v", got, wantOrder)
	}

	addOns := svc.Groups[2]
	if !addOns.Aggregate() || len(addOns.SubGroups) != 2 {
		t.Fatalf("expected Add Ons to be an aggregate of two clusters, got %+v", addOns)
	}

	scan, _ := svc.Cluster("Scan Resolution")
	high, ok := scan.Option("high")
	if !ok || high.Price != 500 || len(high.PriceOverrides) != 1 {
		t.Fatalf("unexpected High option %+v", high)
	}
	if price, ok := high.PriceOverrides[0].Lookup("120mm"); !ok || price != 200 {
		t.Fatalf("expected 120mm override 200, got %d", price)
	}
	ultra, _ := scan.Option("Ultra")
	if ultra.ShowIf == nil || ultra.ShowIf.Clauses[0].Key != "film-development-format" {
		t.Fatalf("expected canonical showIf key, got %+v", ultra.ShowIf)
	}

	shipped, _ := svc.Cluster("negatives_shipped_back")
	yes, _ := shipped.Option("yes")
	if yes.ShowIf != nil {
		t.Fatalf("empty rule object must decode to no rule")
	}

	sleeving, _ := svc.Cluster("sleeving")
	sleeved, _ := sleeving.Option("Sleeved")
	if sleeved.DefaultIf == nil || sleeved.DefaultIf.Clauses[0].Allowed[0] != "4x5 sheet" {
		t.Fatalf("expected entity-escaped defaultIf to decode, got %+v", sleeved.DefaultIf)
	}
	archival, _ := sleeving.Option("Archival")
	if archival.ShowIf != nil {
		t.Fatalf("malformed showIf must fail open, got %+v", archival.ShowIf)
	}

	if len(cat.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %v", cat.Diagnostics)
	}
	diag := cat.Diagnostics[0]
	if diag.Kind != RuleShowIf || diag.Group != "sleeving" || diag.Option != "Archival" || !errors.Is(diag.Err, ErrMalformedRule) {
		t.Fatalf("unexpected diagnostic %+v", diag)
	}

	if len(cat.Pools) != 2 || !cat.Pools[1].Truncated {
		t.Fatalf("unexpected pools %+v", cat.Pools)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"no services": `currency: USD`,
		"duplicate service": `
services:
  - id: a
  - id: a
`,
		"duplicate option": `
services:
  - id: a
    groups:
      - name: Format
        options:
          - value: 35mm
          - value: " 35MM"
`,
		"duplicate cluster": `
services:
  - id: a
    groups:
      - name: Format
        options: [{value: a}]
      - name: format
        options: [{value: b}]
`,
		"two static defaults": `
services:
  - id: a
    groups:
      - name: Format
        options:
          - {value: a, static_default: true}
          - {value: b, static_default: true}
`,
		"bad variant": `
services:
  - id: a
carriers:
  - name: c
    variants:
      - {id: 1, price: 0}
`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidCatalog) {
			t.Fatalf("%s: expected ErrInvalidCatalog, got %v", name, err)
		}
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cat, err := Parse([]byte(`
services:
  - id: a
    groups:
      - name: Format
        required: false
        options: [{value: 35mm}]
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cat.Currency != "USD" || cat.Symbol != "$" || cat.PriceCeiling != 200000 || cat.MaxQuantity != 99 {
		t.Fatalf("unexpected defaults %+v", cat)
	}
	if cat.ReturnShipping.Enabled() {
		t.Fatalf("return shipping must be disabled without a variant")
	}
	svc, _ := cat.Service("a")
	format, _ := svc.Cluster("format")
	if format.Required {
		t.Fatalf("expected required: false to be honoured")
	}
}

func TestDescriptionRendererSanitizes(t *testing.T) {
	r := NewDescriptionRenderer()
	out := string(r.Render("Includes **scans**<script>alert(1)</script> and [prints](https://example.com)"))
	if !strings.Contains(out, "<strong>scans</strong>") {
		t.Fatalf("expected markdown to render, got %q", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("expected script to be stripped, got %q", out)
	}
	if !strings.Contains(out, `rel="nofollow"`) {
		t.Fatalf("expected nofollow links, got %q", out)
	}
	if r.Render("   ") != "" {
		t.Fatalf("expected empty output for blank input")
	}
}

func TestApplyOverrides(t *testing.T) {
	cat := loadFixture(t)
	err := cat.ApplyOverrides(Overrides{
		PriceCeiling: 150000,
		ReturnShipping: ReturnShipping{
			VariantID:  777,
			TriggerKey: "Negatives  Shipped_Back",
		},
	})
	if err != nil {
		t.Fatalf("ApplyOverrides error: %v", err)
	}
	if cat.PriceCeiling != 150000 {
		t.Fatalf("expected ceiling override, got %d", cat.PriceCeiling)
	}
	rs := cat.ReturnShipping
	if rs.VariantID != 777 || rs.TriggerKey != "negatives-shipped-back" || rs.PropertyName != "_return_shipping_required" {
		t.Fatalf("unexpected return shipping %+v", rs)
	}
	if _, ok := cat.Service("develop-scan"); !ok {
		t.Fatalf("expected services to survive re-indexing")
	}
}
