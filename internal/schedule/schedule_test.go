package schedule

import (
	"context"
	"testing"
	"time"
)

func TestMinuteOfDayClock(t *testing.T) {
	cases := map[MinuteOfDay]string{
		0:   "00:00",
		540: "09:00",
		615: "10:15",
	}
	for m, want := range cases {
		if got := m.Clock(); got != want {
			t.Fatalf("minute %d: got %s, want %s", m, got, want)
		}
	}
}

func TestMemberSchedule(t *testing.T) {
	m := &Member{
		ID:       "emp-1",
		Status:   "active",
		WorkDays: map[time.Weekday]bool{time.Monday: true, time.Friday: true},
		Starts:   map[time.Weekday]MinuteOfDay{time.Monday: 540},
	}
	if !m.Active() {
		t.Fatalf("expected active")
	}
	if !m.WorksOn(time.Monday) || m.WorksOn(time.Sunday) {
		t.Fatalf("unexpected workday set")
	}
	if start, ok := m.StartFor(time.Monday); !ok || start != 540 {
		t.Fatalf("unexpected monday start: %v %v", start, ok)
	}
	if _, ok := m.StartFor(time.Friday); ok {
		t.Fatalf("expected no start for friday")
	}
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStatic(
		&Member{ID: "b", Name: "Bea", Status: "active"},
		&Member{ID: "a", Name: "Ada", Status: "active"},
		&Member{ID: "c", Name: "Cal", Status: "inactive"},
	)
	ctx := context.Background()

	m, err := dir.Find(ctx, "a")
	if err != nil || m.Name != "Ada" {
		t.Fatalf("Find: %v %v", m, err)
	}
	if _, err := dir.Find(ctx, "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	active, err := dir.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("unexpected active list: %+v", active)
	}
}
