package domain_test

import (
	"testing"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePeriod(t *testing.T) {
	tests := []struct {
		name                string
		closing, due        int
		month, year         int
		start, end, dueDate string
	}{
		{"mid year", 5, 15, 3, 2025, "2025-02-05", "2025-03-05", "2025-03-15"},
		{"january wraps to december", 10, 17, 1, 2025, "2024-12-10", "2025-01-10", "2025-01-17"},
		{"due before closing", 25, 5, 6, 2025, "2025-05-25", "2025-06-25", "2025-06-05"},
		{"day 31 clamped in february", 31, 31, 2, 2025, "2025-01-31", "2025-02-28", "2025-02-28"},
		{"day 31 clamped in leap february", 31, 30, 2, 2024, "2024-01-31", "2024-02-29", "2024-02-29"},
		{"day 31 clamped in previous month", 31, 10, 5, 2025, "2025-04-30", "2025-05-31", "2025-05-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := domain.ComputePeriod(tt.closing, tt.due, tt.month, tt.year)
			require.NoError(t, err)
			assert.Equal(t, tt.start, p.StartDate())
			assert.Equal(t, tt.end, p.EndDate())
			assert.Equal(t, tt.dueDate, p.DueDate())
		})
	}
}

func TestComputePeriod_Validation(t *testing.T) {
	tests := []struct {
		name                      string
		closing, due, month, year int
		field                     string
	}{
		{"closing zero", 0, 10, 3, 2025, "dia_fechamento"},
		{"closing 32", 32, 10, 3, 2025, "dia_fechamento"},
		{"due zero", 5, 0, 3, 2025, "dia_vencimento"},
		{"month 13", 5, 10, 13, 2025, "mes"},
		{"month zero", 5, 10, 0, 2025, "mes"},
		{"year zero", 5, 10, 3, 0, "ano"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.ComputePeriod(tt.closing, tt.due, tt.month, tt.year)
			var v *domain.ErrValidation
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
}

func TestPeriod_HalfOpen(t *testing.T) {
	march, err := domain.ComputePeriod(5, 15, 3, 2025)
	require.NoError(t, err)
	april, err := domain.ComputePeriod(5, 15, 4, 2025)
	require.NoError(t, err)

	assert.True(t, march.Contains("2025-02-05"), "start is inclusive")
	assert.True(t, march.Contains("2025-03-04"))
	assert.False(t, march.Contains("2025-03-05"), "end is exclusive")
	assert.True(t, april.Contains("2025-03-05"), "closing day belongs to the next statement")
	assert.False(t, march.Contains("2025-02-04"))
	assert.False(t, march.Contains("not-a-date"))
	assert.True(t, march.Contains("2025-02-20T00:00:00"))

	assert.Equal(t, march.End, april.Start, "consecutive periods share a boundary")
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 28, domain.DaysIn(2025, 2))
	assert.Equal(t, 29, domain.DaysIn(2024, 2))
	assert.Equal(t, 31, domain.DaysIn(2025, 12))
	assert.Equal(t, 30, domain.DaysIn(2025, 4))
}
