package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used by the store and the API.
const DateLayout = "2006-01-02"

// Period is a statement period. Transactions due in [Start, End) belong to
// the statement; one due exactly on End belongs to the next one.
type Period struct {
	Start time.Time
	End   time.Time
	Due   time.Time
}

// StartDate returns Start as YYYY-MM-DD.
func (p Period) StartDate() string { return p.Start.Format(DateLayout) }

// EndDate returns End (the closing date) as YYYY-MM-DD.
func (p Period) EndDate() string { return p.End.Format(DateLayout) }

// DueDate returns Due as YYYY-MM-DD.
func (p Period) DueDate() string { return p.Due.Format(DateLayout) }

// Contains reports whether a YYYY-MM-DD due date falls inside [Start, End).
// A trailing time part ("2025-02-20T00:00:00") is ignored.
func (p Period) Contains(dueDate string) bool {
	if len(dueDate) > len(DateLayout) {
		dueDate = dueDate[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, dueDate)
	if err != nil {
		return false
	}
	return !d.Before(p.Start) && d.Before(p.End)
}

// ComputePeriod returns the statement period of the given reference month.
// End is the closing day of that month, Start the closing day of the previous
// month and Due the due day of the reference month. Days beyond the length of
// a month are clamped to its last day (31 in February -> 28 or 29).
func ComputePeriod(closingDay, dueDay, month, year int) (Period, error) {
	if closingDay < 1 || closingDay > 31 {
		return Period{}, &ErrValidation{Field: "dia_fechamento", Message: fmt.Sprintf("deve estar entre 1 e 31, recebido %d", closingDay)}
	}
	if dueDay < 1 || dueDay > 31 {
		return Period{}, &ErrValidation{Field: "dia_vencimento", Message: fmt.Sprintf("deve estar entre 1 e 31, recebido %d", dueDay)}
	}
	if month < 1 || month > 12 {
		return Period{}, &ErrValidation{Field: "mes", Message: fmt.Sprintf("deve estar entre 1 e 12, recebido %d", month)}
	}
	if year < 1 {
		return Period{}, &ErrValidation{Field: "ano", Message: fmt.Sprintf("inválido: %d", year)}
	}

	prevMonth, prevYear := month-1, year
	if month == 1 {
		prevMonth, prevYear = 12, year-1
	}

	return Period{
		Start: clampedDate(prevYear, time.Month(prevMonth), closingDay),
		End:   clampedDate(year, time.Month(month), closingDay),
		Due:   clampedDate(year, time.Month(month), dueDay),
	}, nil
}

// clampedDate builds a UTC date, clamping day to the last day of the month
// instead of letting time.Date roll over into the next month.
func clampedDate(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days of a month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
