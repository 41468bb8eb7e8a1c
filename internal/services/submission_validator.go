package services

// ScrollOffset is the fixed viewport offset, in pixels, applied when scrolling to the first
// failing group.
const ScrollOffset = 120

// Validate checks that every visible required cluster has exactly one selected option among
// its visible, enabled members. Aggregate groups are validated per cluster.
func Validate(view FormView) error {
	if view.ServiceID == "" {
		return ErrNoActiveService
	}
	var verr *ValidationError
	for _, group := range view.Groups {
		if !group.Visible {
			continue
		}
		for _, cluster := range group.Clusters {
			if !cluster.Visible || !cluster.Required {
				continue
			}
			selected := 0
			focus := ""
			for _, opt := range cluster.Options {
				if !opt.Visible || opt.Disabled {
					continue
				}
				if focus == "" {
					focus = opt.InputID
				}
				if opt.Selected {
					selected++
				}
			}
			if selected == 1 {
				continue
			}
			if verr == nil {
				verr = &ValidationError{FocusGroup: cluster.Key, FocusInput: focus, ScrollOffset: ScrollOffset}
			}
			verr.Groups = append(verr.Groups, cluster.Key)
			verr.Labels = append(verr.Labels, cluster.Label)
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}
