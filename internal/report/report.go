// Package report folds approved timesheets into invoice summaries. Every
// function here is pure: same input, same output, no side effects.
package report

import (
	"strconv"
	"strings"
	"time"

	"wyecare.org/internal/timesheet"
)

// DateRange bounds a summary by shift date, inclusive. Empty fields leave
// that side open. Dates use the "2006-01-02" form.
type DateRange struct {
	From string
	To   string
}

func (r DateRange) contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date > r.To {
		return false
	}
	return true
}

// ShiftHours is the decomposed working time of a single shift.
type ShiftHours struct {
	Total    float64
	Break    float64
	Billable float64
}

// Rollup accumulates hours, pay and shift count for one organization or one
// staff member.
type Rollup struct {
	Hours         float64 `json:"hours"`
	BillableHours float64 `json:"billableHours"`
	Pay           float64 `json:"pay"`
	ShiftCount    int     `json:"shiftCount"`
}

// Extreme names the entity at one end of the billable-hours ranking.
type Extreme struct {
	ID            string  `json:"id"`
	BillableHours float64 `json:"billableHours"`
}

// Summary is the aggregation output. Rollup maps are always non-nil;
// extremes are nil when the input has too few entities to rank.
type Summary struct {
	TotalHours         float64 `json:"totalHours"`
	TotalBillableHours float64 `json:"totalBillableHours"`
	TotalBreakHours    float64 `json:"totalBreakHours"`
	TotalPay           float64 `json:"totalPay"`

	HolidayHours   float64 `json:"holidayHours"`
	EmergencyHours float64 `json:"emergencyHours"`
	WeekendHours   float64 `json:"weekendHours"`
	RegularHours   float64 `json:"regularHours"`

	ByOrganization map[string]Rollup `json:"byOrganization"`
	ByStaff        map[string]Rollup `json:"byStaff"`

	TopOrganization   *Extreme `json:"topOrganization,omitempty"`
	LeastOrganization *Extreme `json:"leastOrganization,omitempty"`
	TopStaff          *Extreme `json:"topStaff,omitempty"`
	LeastStaff        *Extreme `json:"leastStaff,omitempty"`
}

// CalculateShiftHours decomposes a shift timing. An end time before the
// start wraps past midnight. Break defaults to 0 and billable to
// max(0, total-break) when the timing does not override them. Unparseable
// clock times contribute zero rather than failing the fold.
func CalculateShiftHours(t timesheet.ShiftTiming) ShiftHours {
	start, okStart := parseClock(t.StartTime)
	end, okEnd := parseClock(t.EndTime)

	var total float64
	if okStart && okEnd {
		total = end - start
		if total < 0 {
			total += 24
		}
	}

	var brk float64
	if t.BreakHours != nil {
		brk = *t.BreakHours
	}

	var billable float64
	if t.BillableHours != nil {
		billable = *t.BillableHours
	} else if total > brk {
		billable = total - brk
	}

	return ShiftHours{Total: total, Break: brk, Billable: billable}
}

// parseClock reads a 24h "15:04" clock time as fractional hours.
func parseClock(s string) (float64, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 {
		return 0, false
	}
	return float64(hours) + float64(mins)/60, true
}

// HourlyRate looks up the rate for the shift's carer role in its rate table,
// picking the weekday/weekend and normal/emergency variant. Both flags come
// from the shift record itself. No matching row means a rate of 0.
func HourlyRate(shift timesheet.Shift) float64 {
	weekend := isWeekend(shift.Date)
	for _, r := range shift.Rates {
		if r.CarerRole != shift.CarerRole {
			continue
		}
		switch {
		case shift.IsEmergency && weekend:
			return r.EmergencyWeekendRate
		case shift.IsEmergency:
			return r.EmergencyWeekdayRate
		case weekend:
			return r.WeekendRate
		default:
			return r.WeekdayRate
		}
	}
	return 0
}

// isWeekend reports whether the date falls on an ISO weekday above 5
// (Saturday or Sunday). Unparseable dates count as weekdays.
func isWeekend(date string) bool {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return wd > 5
}

// Summarize folds approved timesheets within the range into a Summary.
// Records that are not approved, fall outside the range, or lack usable
// timing data contribute nothing; the fold never fails part-way.
func Summarize(sheets []timesheet.Timesheet, rng DateRange) Summary {
	sum := Summary{
		ByOrganization: make(map[string]Rollup),
		ByStaff:        make(map[string]Rollup),
	}
	// Encounter order drives tie-breaking in the extremes, so track it
	// explicitly instead of ranging over the maps.
	var orgOrder, staffOrder []string

	for _, ts := range sheets {
		if ts.Status != timesheet.StatusApproved {
			continue
		}
		if !rng.contains(ts.Shift.Date) {
			continue
		}

		hrs := CalculateShiftHours(ts.Shift.Timing)
		rate := HourlyRate(ts.Shift)
		pay := hrs.Billable * rate

		sum.TotalHours += hrs.Total
		sum.TotalBillableHours += hrs.Billable
		sum.TotalBreakHours += hrs.Break
		sum.TotalPay += pay

		switch {
		case ts.IsHoliday:
			sum.HolidayHours += hrs.Total
		case ts.Shift.IsEmergency:
			sum.EmergencyHours += hrs.Total
		case isWeekend(ts.Shift.Date):
			sum.WeekendHours += hrs.Total
		default:
			sum.RegularHours += hrs.Total
		}

		if ts.HomeOrgID != "" {
			if _, seen := sum.ByOrganization[ts.HomeOrgID]; !seen {
				orgOrder = append(orgOrder, ts.HomeOrgID)
			}
			r := sum.ByOrganization[ts.HomeOrgID]
			r.Hours += hrs.Total
			r.BillableHours += hrs.Billable
			r.Pay += pay
			r.ShiftCount++
			sum.ByOrganization[ts.HomeOrgID] = r
		}
		if ts.CarerID != "" {
			if _, seen := sum.ByStaff[ts.CarerID]; !seen {
				staffOrder = append(staffOrder, ts.CarerID)
			}
			r := sum.ByStaff[ts.CarerID]
			r.Hours += hrs.Total
			r.BillableHours += hrs.Billable
			r.Pay += pay
			r.ShiftCount++
			sum.ByStaff[ts.CarerID] = r
		}
	}

	sum.TopOrganization, sum.LeastOrganization = extremes(sum.ByOrganization, orgOrder)
	sum.TopStaff, sum.LeastStaff = extremes(sum.ByStaff, staffOrder)
	return sum
}

// extremes ranks entities by billable hours. Ties keep the first-encountered
// entity. Least is only meaningful with at least two distinct entities.
func extremes(rollups map[string]Rollup, order []string) (top, least *Extreme) {
	for _, id := range order {
		r := rollups[id]
		if top == nil || r.BillableHours > top.BillableHours {
			top = &Extreme{ID: id, BillableHours: r.BillableHours}
		}
		if least == nil || r.BillableHours < least.BillableHours {
			least = &Extreme{ID: id, BillableHours: r.BillableHours}
		}
	}
	if len(order) < 2 {
		least = nil
	}
	return top, least
}
