package ability

// Ability is an immutable, compiled permission checker derived from one user
// snapshot. It holds rules in declaration order; Can scans all of them and
// the last match decides.
type Ability struct {
	rules []Rule
}

// NewAbility compiles the given rules. The slice is copied so later mutation
// of the caller's slice cannot change check results.
func NewAbility(rules []Rule) *Ability {
	compiled := make([]Rule, len(rules))
	copy(compiled, rules)
	return &Ability{rules: compiled}
}

// Rules returns a copy of the compiled rule sequence, mainly for diagnostics.
func (a *Ability) Rules() []Rule {
	out := make([]Rule, len(a.rules))
	copy(out, a.rules)
	return out
}

// Can reports whether action on subject is permitted for the given data.
// A rule matches when its action matches (manage matches any), its subject
// matches (all matches any), and its conditions hold against data; a rule
// with conditions never matches nil data. No matching rule means deny.
func (a *Ability) Can(action Action, subject Subject, data map[string]any) bool {
	if a == nil {
		return false
	}
	matched := false
	allowed := false
	for _, r := range a.rules {
		if !r.matches(action, subject, data) {
			continue
		}
		matched = true
		allowed = !r.Inverted
	}
	return matched && allowed
}

// Check wraps Can and never propagates a failure: any panic raised during
// evaluation (malformed condition data, unexpected value shapes) is treated
// as a denial. Callers that need a plain boolean use this.
func Check(a *Ability, action Action, subject Subject, data map[string]any) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()
	return a.Can(action, subject, data)
}
