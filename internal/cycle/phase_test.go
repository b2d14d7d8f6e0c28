package cycle

import (
	"encoding/json"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalculate(t *testing.T) {
	anchor := date(2024, 1, 1)

	tests := []struct {
		name      string
		length    int
		query     time.Time
		wantDay   int
		wantPhase Phase
		predicted bool
	}{
		{"anchor day", 28, date(2024, 1, 1), 1, Menstrual, true},
		{"last period day", 28, date(2024, 1, 5), 5, Menstrual, true},
		{"follicular start", 28, date(2024, 1, 6), 6, Follicular, false},
		{"follicular end", 28, date(2024, 1, 13), 13, Follicular, false},
		{"ovulatory start", 28, date(2024, 1, 14), 14, Ovulatory, false},
		{"ovulatory end", 28, date(2024, 1, 16), 16, Ovulatory, false},
		{"luteal start", 28, date(2024, 1, 17), 17, Luteal, false},
		{"day 20", 28, date(2024, 1, 20), 20, Luteal, false},
		{"last day", 28, date(2024, 1, 28), 28, Luteal, false},
		{"next cycle", 28, date(2024, 1, 29), 1, Menstrual, true},
		{"day before anchor", 28, date(2023, 12, 31), 28, Luteal, false},
		{"cycle before anchor", 28, date(2023, 12, 4), 1, Menstrual, true},
		{"leap day", 28, date(2024, 2, 29), 4, Menstrual, true},
		{"short cycle never luteal", 16, date(2024, 1, 16), 16, Ovulatory, false},
		{"short cycle wraps", 16, date(2024, 1, 17), 1, Menstrual, true},
		{"long cycle late luteal", 45, date(2024, 2, 14), 45, Luteal, false},
		{"zero length defaults", 0, date(2024, 1, 29), 1, Menstrual, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(anchor, tt.length, tt.query)
			if got.DayOfCycle != tt.wantDay {
				t.Errorf("DayOfCycle = %d, want %d", got.DayOfCycle, tt.wantDay)
			}
			if got.Phase != tt.wantPhase {
				t.Errorf("Phase = %v, want %v", got.Phase, tt.wantPhase)
			}
			if got.IsPredictedPeriod != tt.predicted {
				t.Errorf("IsPredictedPeriod = %v, want %v", got.IsPredictedPeriod, tt.predicted)
			}
		})
	}
}

func TestCalculateWrapsEveryCycle(t *testing.T) {
	anchor := date(2024, 3, 10)
	for _, length := range []int{16, 21, 28, 35, 45} {
		for offset := -60; offset <= 120; offset++ {
			d := anchor.AddDate(0, 0, offset)
			a := Calculate(anchor, length, d)
			b := Calculate(anchor, length, d.AddDate(0, 0, length))
			if a != b {
				t.Fatalf("length %d offset %d: %+v != %+v one cycle later", length, offset, a, b)
			}
			if a.DayOfCycle < 1 || a.DayOfCycle > length {
				t.Fatalf("length %d offset %d: day %d out of range", length, offset, a.DayOfCycle)
			}
		}
	}
}

func TestCalculateIgnoresTimeOfDayAndZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tz database unavailable")
	}
	// Anchor before the spring DST change, query after it
	anchor := time.Date(2024, 3, 1, 23, 30, 0, 0, ny)
	query := time.Date(2024, 3, 20, 0, 15, 0, 0, ny)

	got := Calculate(anchor, 28, query)
	if got.DayOfCycle != 20 {
		t.Errorf("DayOfCycle = %d, want 20", got.DayOfCycle)
	}

	tokyo := time.FixedZone("JST", 9*3600)
	same := Calculate(time.Date(2024, 3, 1, 8, 0, 0, 0, tokyo), 28, time.Date(2024, 3, 20, 23, 0, 0, 0, tokyo))
	if same != got {
		t.Errorf("zone changed the result: %+v vs %+v", same, got)
	}
}

func TestToday(t *testing.T) {
	anchor := date(2024, 7, 1)

	if _, ok := Today(anchor, 28, date(2024, 6, 30)); ok {
		t.Error("Today before anchor should report false")
	}

	got, ok := Today(anchor, 28, time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("Today on anchor should report true")
	}
	if got.DayOfCycle != 1 || got.Phase != Menstrual {
		t.Errorf("Today on anchor = %+v", got)
	}

	// The general entry point still answers for the same date
	if r := Calculate(anchor, 28, date(2024, 6, 30)); r.DayOfCycle != 28 {
		t.Errorf("Calculate before anchor = %+v", r)
	}
}

func TestPhaseStringAndJSON(t *testing.T) {
	names := map[Phase]string{
		Menstrual:  "menstrual",
		Follicular: "follicular",
		Ovulatory:  "ovulatory",
		Luteal:     "luteal",
		Phase(9):   "unknown",
	}
	for p, want := range names {
		if p.String() != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), p.String(), want)
		}
	}

	data, err := json.Marshal(Result{Phase: Ovulatory, DayOfCycle: 15})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"phase":"ovulatory","day_of_cycle":15,"is_predicted_period":false}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestParsePhase(t *testing.T) {
	p, ok := ParsePhase("Luteal")
	if !ok || p != Luteal {
		t.Errorf("ParsePhase(Luteal) = %v, %v", p, ok)
	}
	if _, ok := ParsePhase("spring"); ok {
		t.Error("ParsePhase should reject unknown names")
	}

	var r Result
	if err := json.Unmarshal([]byte(`{"phase":"follicular","day_of_cycle":7}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Phase != Follicular || r.DayOfCycle != 7 {
		t.Errorf("decoded %+v", r)
	}
	if err := json.Unmarshal([]byte(`{"phase":"spring"}`), &r); err == nil {
		t.Error("expected error for unknown phase")
	}
}
