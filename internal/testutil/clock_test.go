// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	t.Parallel()

	initial := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(initial)

	if got := clock.Now(); !got.Equal(initial) {
		t.Errorf("Now() = %v, want %v", got, initial)
	}

	clock.Advance(5 * time.Second)
	if got := clock.Now(); !got.Equal(initial.Add(5 * time.Second)) {
		t.Errorf("after Advance, Now() = %v", got)
	}
}

func TestFakeClock_Step(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Time{}).WithStep(time.Second)
	first := clock.Now()
	second := clock.Now()
	if d := second.Sub(first); d != time.Second {
		t.Errorf("step = %v, want 1s", d)
	}
	if first.Unix() != 1600000000 {
		t.Errorf("default start = %d, want 1600000000", first.Unix())
	}
}

func TestNewRoleDir(t *testing.T) {
	t.Parallel()

	dir := NewRoleDir(t, map[string]string{"tests/requirements.yml": "- src: geerlingguy.git\n"})
	for _, rel := range []string{"tasks/main.yml", "tests/test.yml", "tests/requirements.yml"} {
		if !fileExists(dir + "/" + rel) {
			t.Errorf("expected %s to exist", rel)
		}
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
