package usage

import (
	"testing"
	"time"
)

func TestWindow_Remaining(t *testing.T) {
	cases := []struct {
		name string
		w    Window
		want int64
	}{
		{"uncapped", Window{Tokens: 500}, -1},
		{"under cap", Window{Limit: 1000, Tokens: 400}, 600},
		{"at cap", Window{Limit: 1000, Tokens: 1000}, 0},
		{"over cap", Window{Limit: 1000, Tokens: 1500}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.w.Remaining(); got != tc.want {
				t.Errorf("Remaining() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWindow_Exhausted(t *testing.T) {
	if (Window{Tokens: 999999}).Exhausted() {
		t.Error("uncapped window can never be exhausted")
	}
	if (Window{Limit: 100, Tokens: 99}).Exhausted() {
		t.Error("window under cap is not exhausted")
	}
	if !(Window{Limit: 100, Tokens: 100}).Exhausted() {
		t.Error("window at cap is exhausted")
	}
}

func TestReport_CarriesWindow(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	r := Report{
		Period:   PeriodMonth,
		Provider: "openai",
		Window:   Window{Start: start, End: start.AddDate(0, 1, 0), Requests: 12, Tokens: 38420, Limit: 200000},
	}
	if r.Window.Remaining() != 161580 {
		t.Errorf("Remaining() = %d", r.Window.Remaining())
	}
	if r.Window.Exhausted() {
		t.Error("window is not exhausted")
	}
}
