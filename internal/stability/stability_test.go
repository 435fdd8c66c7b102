package stability

import (
	"testing"
	"time"
)

func TestCanSwitchInitiallyTrue(t *testing.T) {
	c := New(Config{Cooldown: time.Second, HysteresisMB: 100})
	if !c.CanSwitch() {
		t.Fatalf("expected CanSwitch to be true before any switch recorded")
	}
}

func TestCooldownRespected(t *testing.T) {
	cur := time.Unix(0, 0)
	c := New(Config{Cooldown: 5 * time.Second, HysteresisMB: 100})
	c.now = func() time.Time { return cur }

	c.RecordSwitch()
	if c.CanSwitch() {
		t.Fatalf("expected CanSwitch false immediately after a switch")
	}

	cur = cur.Add(4 * time.Second)
	if c.CanSwitch() {
		t.Fatalf("expected CanSwitch false before cooldown elapses")
	}

	cur = cur.Add(2 * time.Second)
	if !c.CanSwitch() {
		t.Fatalf("expected CanSwitch true once cooldown has elapsed")
	}
}

func TestIsSignificantChange(t *testing.T) {
	c := New(Config{Cooldown: time.Second, HysteresisMB: 512})
	if !c.IsSignificantChange(1000) {
		t.Fatalf("expected first reading to be significant")
	}
	c.UpdateReading(1000)
	if c.IsSignificantChange(1300) {
		t.Fatalf("expected 300MB delta to be within 512MB hysteresis")
	}
	if !c.IsSignificantChange(1600) {
		t.Fatalf("expected 600MB delta to exceed 512MB hysteresis")
	}
}
