package app

import (
	"testing"
	"time"
)

func TestNextMaintenanceRun(t *testing.T) {
	from := time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC)

	next, err := nextMaintenanceRun("0 3 * * *", "UTC", from)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	// Descriptor form is accepted too.
	if _, err := nextMaintenanceRun("@daily", "UTC", from); err != nil {
		t.Fatalf("descriptor rejected: %v", err)
	}

	// Extra whitespace is normalized before parsing.
	if _, err := nextMaintenanceRun("  0  3 * *   * ", "UTC", from); err != nil {
		t.Fatalf("whitespace not normalized: %v", err)
	}
}

func TestNextMaintenanceRunHonorsTimezone(t *testing.T) {
	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := nextMaintenanceRun("0 3 * * *", "Asia/Shanghai", from)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 03:00 in UTC+8 is 19:00 UTC the same day.
	want := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextMaintenanceRunRejectsGarbage(t *testing.T) {
	from := time.Now()
	if _, err := nextMaintenanceRun("not a cron", "UTC", from); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := nextMaintenanceRun("0 3 * * *", "Mars/Olympus", from); err == nil {
		t.Fatal("expected timezone error")
	}
	if _, err := nextMaintenanceRun("   ", "UTC", from); err == nil {
		t.Fatal("expected empty expression error")
	}
}
