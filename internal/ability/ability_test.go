package ability

import (
	"reflect"
	"testing"
)

func TestCanLastMatchingRuleWins(t *testing.T) {
	a := NewAbility([]Rule{
		{Action: ActionRead, Subject: SubjectPatient},
		{Action: ActionRead, Subject: SubjectPatient, Conditions: Conditions{"departmentId": "icu"}, Inverted: true},
	})

	if a.Can(ActionRead, SubjectPatient, map[string]any{"departmentId": "icu"}) {
		t.Fatal("cannot-rule should narrow the earlier grant")
	}
	if !a.Can(ActionRead, SubjectPatient, map[string]any{"departmentId": "ward-2"}) {
		t.Fatal("data outside the cannot-condition should stay allowed")
	}
}

func TestCanOrderMatters(t *testing.T) {
	// A cannot-rule declared before the can-rule must not narrow it.
	a := NewAbility([]Rule{
		{Action: ActionRead, Subject: SubjectPatient, Conditions: Conditions{"departmentId": "icu"}, Inverted: true},
		{Action: ActionRead, Subject: SubjectPatient},
	})
	if !a.Can(ActionRead, SubjectPatient, map[string]any{"departmentId": "icu"}) {
		t.Fatal("later can-rule should override earlier cannot-rule")
	}
}

func TestManageMatchesAnyAction(t *testing.T) {
	a := NewAbility([]Rule{{Action: ActionManage, Subject: SubjectTimesheet}})
	for _, action := range Actions() {
		if !a.Can(action, SubjectTimesheet, nil) {
			t.Fatalf("manage rule should match action %s", action)
		}
	}
	if a.Can(ActionRead, SubjectPatient, nil) {
		t.Fatal("manage on Timesheet must not leak to other subjects")
	}
}

func TestAllMatchesAnySubject(t *testing.T) {
	a := NewAbility([]Rule{{Action: ActionRead, Subject: SubjectAll}})
	for _, subject := range Subjects() {
		if !a.Can(ActionRead, subject, nil) {
			t.Fatalf("all rule should match subject %s", subject)
		}
	}
}

func TestConditionedRuleFailsWithoutData(t *testing.T) {
	a := NewAbility([]Rule{
		{Action: ActionRead, Subject: SubjectUser, Conditions: Conditions{"id": "u1"}},
	})
	if a.Can(ActionRead, SubjectUser, nil) {
		t.Fatal("missing data must fail any rule with conditions")
	}
	if !a.Can(ActionRead, SubjectUser, map[string]any{"id": "u1"}) {
		t.Fatal("matching data should pass")
	}
}

func TestNoMatchMeansDeny(t *testing.T) {
	a := NewAbility(nil)
	if a.Can(ActionRead, SubjectPatient, nil) {
		t.Fatal("empty rule set must deny")
	}
}

func TestConditionOperators(t *testing.T) {
	cases := []struct {
		name string
		cond Conditions
		data map[string]any
		want bool
	}{
		{"equality hit", Conditions{"organizationId": "org-1"}, map[string]any{"organizationId": "org-1"}, true},
		{"equality miss", Conditions{"organizationId": "org-1"}, map[string]any{"organizationId": "org-2"}, false},
		{"numeric widening", Conditions{"count": 3}, map[string]any{"count": float64(3)}, true},
		{"ne hit", Conditions{"id": map[string]any{"$ne": "org-1"}}, map[string]any{"id": "org-2"}, true},
		{"ne miss", Conditions{"id": map[string]any{"$ne": "org-1"}}, map[string]any{"id": "org-1"}, false},
		{"ne absent field", Conditions{"id": map[string]any{"$ne": "org-1"}}, map[string]any{}, true},
		{"in hit", Conditions{"type": map[string]any{"$in": []any{"A", "B"}}}, map[string]any{"type": "B"}, true},
		{"in miss", Conditions{"type": map[string]any{"$in": []any{"A", "B"}}}, map[string]any{"type": "C"}, false},
		{"exists true", Conditions{"signature": map[string]any{"$exists": true}}, map[string]any{"signature": "img"}, true},
		{"exists false", Conditions{"signature": map[string]any{"$exists": false}}, map[string]any{}, true},
		{"exists false but present", Conditions{"signature": map[string]any{"$exists": false}}, map[string]any{"signature": "img"}, false},
		{"dotted path", Conditions{"shift.departmentId": "d1"}, map[string]any{"shift": map[string]any{"departmentId": "d1"}}, true},
		{"dotted path miss", Conditions{"shift.departmentId": "d1"}, map[string]any{"shift": map[string]any{}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Match(tc.data); got != tc.want {
				t.Fatalf("Match()=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckSwallowsPanics(t *testing.T) {
	var a *Ability // nil receiver is handled by Can already
	if Check(a, ActionRead, SubjectUser, nil) {
		t.Fatal("nil ability must deny")
	}
	// A condition value whose comparison panics must turn into a denial.
	weird := NewAbility([]Rule{
		{Action: ActionRead, Subject: SubjectUser, Conditions: Conditions{"id": func() {}}},
	})
	if Check(weird, ActionRead, SubjectUser, map[string]any{"id": func() {}}) {
		t.Fatal("evaluation fault must be treated as denial")
	}
}

func TestAbilityIsImmutable(t *testing.T) {
	rules := []Rule{{Action: ActionRead, Subject: SubjectUser}}
	a := NewAbility(rules)
	rules[0] = Rule{Action: ActionRead, Subject: SubjectUser, Inverted: true}
	if !a.Can(ActionRead, SubjectUser, nil) {
		t.Fatal("mutating the source slice must not affect compiled ability")
	}
	got := a.Rules()
	got[0].Inverted = true
	if !a.Can(ActionRead, SubjectUser, nil) {
		t.Fatal("mutating the Rules() copy must not affect compiled ability")
	}
	if !reflect.DeepEqual(a.Rules(), []Rule{{Action: ActionRead, Subject: SubjectUser}}) {
		t.Fatal("Rules() should return the original sequence")
	}
}
