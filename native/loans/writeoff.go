package loans

// TriggerCheck evaluates whether one write-off trigger is in effect for a
// loan. Implementations return an error when the condition cannot be
// observed, e.g. when the oracle has never seen the price id.
type TriggerCheck func(trigger WriteOffTrigger) (bool, error)

// uniqueTriggers keeps the first trigger of each kind, matching the set
// semantics of a rule: a later duplicate of the same kind is ignored.
func uniqueTriggers(triggers []WriteOffTrigger) []WriteOffTrigger {
	seen := make(map[TriggerKind]struct{}, len(triggers))
	unique := make([]WriteOffTrigger, 0, len(triggers))
	for _, trigger := range triggers {
		if _, ok := seen[trigger.Kind]; ok {
			continue
		}
		seen[trigger.Kind] = struct{}{}
		unique = append(unique, trigger)
	}
	return unique
}

// triggered reports whether any trigger of the rule is in effect. A rule
// with no triggers never fires.
func (r WriteOffRule) triggered(check TriggerCheck) (bool, error) {
	for _, trigger := range uniqueTriggers(r.Triggers) {
		ok, err := check(trigger)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// FindRule selects the applicable rule of the policy: among all rules with
// at least one effective trigger, the one with the greatest (percentage,
// penalty) ordering wins, and on ties the last such rule. The result is nil
// when no rule fires, which is a defined outcome rather than an error. Any
// trigger evaluation error aborts the whole selection, so a partially
// observable policy never silently picks a weaker rule.
func (p WriteOffPolicy) FindRule(check TriggerCheck) (*WriteOffRule, error) {
	var best *WriteOffRule
	for i := range p.Rules {
		rule := p.Rules[i]
		ok, err := rule.triggered(check)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if best == nil || rule.Status.compare(best.Status) >= 0 {
			selected := rule.Clone()
			best = &selected
		}
	}
	return best, nil
}
