package scheduling

import (
	"sort"
	"time"
)

// ResolveOpenIntervals expands a doctor's weekly template plus
// date-specific exceptions into concrete open intervals for every date
// in the half-open range. Pure function: no I/O, deterministic.
//
// Per date: a full-unavailability exception emits nothing, a
// custom-interval exception replaces the weekday rule, otherwise the
// weekday rule applies (or nothing, if the doctor has no rule for that
// weekday). The template's break window is subtracted from the result,
// splitting it into up to two sub-intervals.
func ResolveOpenIntervals(tpl AvailabilityTemplate, exceptions []AvailabilityException, rng DateRange) ([]OpenInterval, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	loc, err := tpl.Location()
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]AvailabilityException, len(exceptions))
	for _, ex := range exceptions {
		byDate[ex.DateKey()] = ex
	}

	from := civilDate(rng.From, loc)
	to := civilDate(rng.To, loc)

	var out []OpenInterval
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		var start, end time.Time

		if ex, ok := byDate[day.Format(dateLayout)]; ok {
			if ex.Unavailable {
				continue
			}
			if ex.Start == nil || ex.End == nil || *ex.Start >= *ex.End {
				continue
			}
			start = ex.Start.At(day, loc)
			end = ex.End.At(day, loc)
		} else {
			rule, ok := tpl.RuleFor(day.Weekday())
			if !ok {
				continue
			}
			start = rule.Start.At(day, loc)
			end = rule.End.At(day, loc)
		}

		for _, iv := range subtractBreak(start, end, tpl, day, loc) {
			out = append(out, OpenInterval{
				DoctorID: tpl.DoctorID,
				Date:     day,
				Start:    iv[0],
				End:      iv[1],
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	return out, nil
}

// subtractBreak removes the template's break window from [start,end),
// returning the surviving pieces in order. A break that fully covers
// the interval leaves nothing.
func subtractBreak(start, end time.Time, tpl AvailabilityTemplate, day time.Time, loc *time.Location) [][2]time.Time {
	if tpl.BreakDuration <= 0 {
		return [][2]time.Time{{start, end}}
	}

	bStart := tpl.BreakStart.At(day, loc)
	bEnd := bStart.Add(tpl.BreakDuration)

	// No intersection: interval survives whole.
	if !bStart.Before(end) || !start.Before(bEnd) {
		return [][2]time.Time{{start, end}}
	}

	var out [][2]time.Time
	if start.Before(bStart) {
		out = append(out, [2]time.Time{start, bStart})
	}
	if bEnd.Before(end) {
		out = append(out, [2]time.Time{bEnd, end})
	}
	return out
}

// civilDate truncates t to midnight of its civil date in loc.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
