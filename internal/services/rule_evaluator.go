package services

import (
	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/domain"
)

// OptionState is the runtime state of one option after rule evaluation.
type OptionState struct {
	ID       string `json:"id"`
	InputID  string `json:"inputId"`
	Value    string `json:"value"`
	Label    string `json:"label"`
	Visible  bool   `json:"visible"`
	Disabled bool   `json:"disabled"`
	Selected bool   `json:"selected"`
	Forced   bool   `json:"forced"`
	Sentinel bool   `json:"sentinel"`
	Price    int64  `json:"price"`
}

// ClusterState is the runtime state of one single-select cluster.
type ClusterState struct {
	Key           string        `json:"key"`
	Name          string        `json:"name"`
	Label         string        `json:"label"`
	GroupKey      string        `json:"groupKey"`
	Visible       bool          `json:"visible"`
	Required      bool          `json:"required"`
	Selected      string        `json:"selected,omitempty"`
	SelectedLabel string        `json:"selectedLabel,omitempty"`
	Options       []OptionState `json:"options"`
}

// Option returns the state of the option with the given value.
func (c *ClusterState) Option(value string) (*OptionState, bool) {
	normalized := catalog.NormalizeValue(value)
	for i := range c.Options {
		if catalog.NormalizeValue(c.Options[i].Value) == normalized {
			return &c.Options[i], true
		}
	}
	return nil, false
}

// GroupState is the runtime state of a top-level group; aggregates hold several clusters.
type GroupState struct {
	Key       string         `json:"key"`
	Label     string         `json:"label"`
	Visible   bool           `json:"visible"`
	Aggregate bool           `json:"aggregate"`
	Clusters  []ClusterState `json:"clusters"`
}

// Evaluation is the result of running every rule of a service block against a selection.
type Evaluation struct {
	ServiceID string           `json:"serviceId"`
	Groups    []GroupState     `json:"groups"`
	Selection domain.Selection `json:"-"`
	Passes    int              `json:"-"`
	Converged bool             `json:"-"`
}

// Cluster finds a cluster by canonical key.
func (e *Evaluation) Cluster(key string) (*ClusterState, bool) {
	key = catalog.CanonicalKey(key)
	for gi := range e.Groups {
		for ci := range e.Groups[gi].Clusters {
			if e.Groups[gi].Clusters[ci].Key == key {
				return &e.Groups[gi].Clusters[ci], true
			}
		}
	}
	return nil, false
}

// Clusters returns every cluster in document order.
func (e *Evaluation) Clusters() []ClusterState {
	var out []ClusterState
	for _, g := range e.Groups {
		out = append(out, g.Clusters...)
	}
	return out
}

// EvaluateRules resolves visibility, forced defaults and effective prices for every option in
// the service block. Passes repeat until the selection stops changing, so evaluating the result
// again yields the same assignment.
func EvaluateRules(svc *catalog.Service, sel domain.Selection) Evaluation {
	if svc == nil {
		return Evaluation{Selection: domain.Selection{}, Converged: true}
	}
	current := sel.Clone()
	limit := len(svc.ClusterKeys()) + 1
	var eval Evaluation
	for pass := 1; pass <= limit; pass++ {
		var next domain.Selection
		eval, next = evaluatePass(svc, current)
		eval.Passes = pass
		if next.Equal(current) {
			eval.Converged = true
			return eval
		}
		current = next
	}
	eval, _ = evaluatePass(svc, current)
	eval.Passes = limit
	return eval
}

func evaluatePass(svc *catalog.Service, sel domain.Selection) (Evaluation, domain.Selection) {
	eval := Evaluation{ServiceID: svc.ID, Groups: make([]GroupState, 0, len(svc.Groups))}
	next := domain.Selection{}
	rendered := svc.HasCluster

	for gi := range svc.Groups {
		group := &svc.Groups[gi]
		visible := group.ShowIf == nil || group.ShowIf.Matches(sel, rendered)
		gs := GroupState{
			Key:       group.Key,
			Label:     group.DisplayLabel(),
			Visible:   visible,
			Aggregate: group.Aggregate(),
		}
		if group.Aggregate() {
			for si := range group.SubGroups {
				sub := &group.SubGroups[si]
				subVisible := visible && (sub.ShowIf == nil || sub.ShowIf.Matches(sel, rendered))
				gs.Clusters = append(gs.Clusters, evaluateCluster(group.Key, sub, subVisible, sel, next, rendered))
			}
		} else {
			gs.Clusters = append(gs.Clusters, evaluateCluster(group.Key, group, visible, sel, next, rendered))
		}
		eval.Groups = append(eval.Groups, gs)
	}
	eval.Selection = next
	return eval, next
}

func evaluateCluster(groupKey string, cluster *catalog.Group, visible bool, sel, next domain.Selection, rendered func(string) bool) ClusterState {
	cs := ClusterState{
		Key:      cluster.Key,
		Name:     cluster.Name,
		Label:    cluster.DisplayLabel(),
		GroupKey: groupKey,
		Visible:  visible,
		Required: cluster.Required,
		Options:  make([]OptionState, 0, len(cluster.Options)),
	}

	forced := -1
	for i := range cluster.Options {
		opt := &cluster.Options[i]
		state := OptionState{
			ID:       catalog.OptionID(cluster.Key, opt.Value),
			InputID:  catalog.InputID(cluster.Key, opt.Value),
			Value:    opt.Value,
			Label:    opt.DisplayLabel(),
			Sentinel: opt.Sentinel,
			Visible:  visible && (opt.ShowIf == nil || opt.ShowIf.Matches(sel, rendered)),
			Price:    effectivePrice(opt, sel),
		}
		if visible && forced < 0 && opt.DefaultIf != nil && opt.DefaultIf.Matches(sel, rendered) {
			forced = i
		}
		cs.Options = append(cs.Options, state)
	}

	if !visible {
		return cs
	}

	if forced >= 0 {
		for i := range cs.Options {
			if i == forced {
				cs.Options[i].Visible = true
				cs.Options[i].Forced = true
				continue
			}
			cs.Options[i].Disabled = true
		}
		next[cluster.Key] = domain.Choice{Value: cs.Options[forced].Value, Origin: domain.OriginConditionalDefault}
	} else if choice, ok := sel[cluster.Key]; ok && choice.Origin != domain.OriginConditionalDefault {
		if state, found := cs.Option(choice.Value); found && state.Visible {
			next[cluster.Key] = domain.Choice{Value: state.Value, Origin: choice.Origin}
		}
	}

	if _, chosen := next[cluster.Key]; !chosen {
		if def, ok := cluster.StaticDefault(); ok {
			if state, found := cs.Option(def.Value); found && state.Visible {
				next[cluster.Key] = domain.Choice{Value: def.Value, Origin: domain.OriginStaticDefault}
			}
		}
	}

	if choice, ok := next[cluster.Key]; ok {
		if state, found := cs.Option(choice.Value); found {
			state.Selected = true
			cs.Selected = state.Value
			cs.SelectedLabel = state.Label
		}
	}
	return cs
}

// effectivePrice walks the option's overrides in declaration order; the first one whose group
// has a selection present in its price map wins.
func effectivePrice(opt *catalog.Option, sel domain.Selection) int64 {
	for _, override := range opt.PriceOverrides {
		value, ok := sel.Value(override.Key)
		if !ok {
			continue
		}
		if price, ok := override.Lookup(value); ok {
			return price
		}
	}
	return opt.Price
}
