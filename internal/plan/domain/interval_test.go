package domain

import (
	"testing"
	"time"
)

func TestAddInterval(t *testing.T) {
	cases := []struct {
		name  string
		start time.Time
		unit  IntervalUnit
		count int
		want  time.Time
	}{
		{
			name:  "one day",
			start: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			unit:  IntervalDay,
			count: 1,
			want:  time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "month clamps to end of february",
			start: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			unit:  IntervalMonth,
			count: 1,
			want:  time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "leap year",
			start: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			unit:  IntervalMonth,
			count: 1,
			want:  time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "twelve months",
			start: time.Date(2025, 5, 15, 8, 30, 0, 0, time.UTC),
			unit:  IntervalMonth,
			count: 12,
			want:  time.Date(2026, 5, 15, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "non utc input",
			start: time.Date(2025, 6, 1, 7, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
			unit:  IntervalDay,
			count: 2,
			want:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AddInterval(tc.start, tc.unit, tc.count)
			if !got.Equal(tc.want) {
				t.Fatalf("AddInterval = %s, want %s", got, tc.want)
			}
		})
	}
}
