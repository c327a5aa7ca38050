package recurrence

import (
	"testing"
	"time"

	"github.com/username/finflow/src/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestNextPerInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       time.Time
		interval models.RecurringInterval
		want     time.Time
	}{
		{"daily", date(2025, time.March, 10), models.IntervalDaily, date(2025, time.March, 11)},
		{"daily month rollover", date(2025, time.January, 31), models.IntervalDaily, date(2025, time.February, 1)},
		{"weekly", date(2025, time.March, 10), models.IntervalWeekly, date(2025, time.March, 17)},
		{"weekly year rollover", date(2025, time.December, 29), models.IntervalWeekly, date(2026, time.January, 5)},
		{"monthly plain", date(2025, time.March, 15), models.IntervalMonthly, date(2025, time.April, 15)},
		{"monthly jan31 clamps to feb28", date(2025, time.January, 31), models.IntervalMonthly, date(2025, time.February, 28)},
		{"monthly jan31 leap year clamps to feb29", date(2024, time.January, 31), models.IntervalMonthly, date(2024, time.February, 29)},
		{"monthly mar31 clamps to apr30", date(2025, time.March, 31), models.IntervalMonthly, date(2025, time.April, 30)},
		{"monthly dec to jan", date(2025, time.December, 31), models.IntervalMonthly, date(2026, time.January, 31)},
		{"yearly plain", date(2025, time.June, 1), models.IntervalYearly, date(2026, time.June, 1)},
		{"yearly feb29 clamps to feb28", date(2024, time.February, 29), models.IntervalYearly, date(2025, time.February, 28)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(tc.in, tc.interval)
			if err != nil {
				t.Fatalf("Next(%s, %s): %v", tc.in, tc.interval, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next(%s, %s) = %s, want %s", tc.in, tc.interval, got, tc.want)
			}
		})
	}
}

func TestNextDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := date(2025, time.January, 31)
	saved := in
	if _, err := Next(in, models.IntervalMonthly); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !in.Equal(saved) {
		t.Fatalf("input mutated: %s != %s", in, saved)
	}
}

func TestNextStrictlyIncreasesUnderRepeatedApplication(t *testing.T) {
	t.Parallel()

	intervals := []models.RecurringInterval{
		models.IntervalDaily, models.IntervalWeekly, models.IntervalMonthly, models.IntervalYearly,
	}
	starts := []time.Time{
		date(2024, time.February, 29),
		date(2025, time.January, 31),
		date(2025, time.December, 31),
		date(2025, time.June, 15),
	}

	for _, interval := range intervals {
		for _, start := range starts {
			cur := start
			for i := 0; i < 50; i++ {
				next, err := Next(cur, interval)
				if err != nil {
					t.Fatalf("Next(%s, %s): %v", cur, interval, err)
				}
				if !next.After(cur) {
					t.Fatalf("Next(%s, %s) = %s does not strictly advance", cur, interval, next)
				}
				cur = next
			}
		}
	}
}

func TestNextRejectsUnknownInterval(t *testing.T) {
	t.Parallel()

	if _, err := Next(date(2025, time.March, 1), models.RecurringInterval("FORTNIGHTLY")); err == nil {
		t.Fatal("expected error for unknown interval")
	}
}

func TestIsValidInterval(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"DAILY", "WEEKLY", "MONTHLY", "YEARLY"} {
		if !IsValidInterval(valid) {
			t.Fatalf("expected %q to be valid", valid)
		}
	}
	for _, invalid := range []string{"", "daily", "HOURLY"} {
		if IsValidInterval(invalid) {
			t.Fatalf("expected %q to be invalid", invalid)
		}
	}
}
