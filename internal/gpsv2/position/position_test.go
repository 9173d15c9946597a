package position

import (
	"math"
	"testing"
)

func TestKnotsFromKph(t *testing.T) {
	cases := []struct {
		kph, knots float64
	}{
		{0, 0},
		{60, 32.39742},
		{100, 53.9957},
	}
	for _, c := range cases {
		if got := KnotsFromKph(c.kph); math.Abs(got-c.knots) > 1e-6 {
			t.Errorf("%f km/h: got %f, want %f", c.kph, got, c.knots)
		}
	}
}

func TestSetIgnoresEmpty(t *testing.T) {
	p := New("fifotrack", 1, "123")
	p.Set(KEY_ALARM, "")
	p.Set(KEY_INPUT, nil)
	p.Set(KEY_STATUS, int64(0))
	p.Set(KEY_DRIVER_UNIQUE_ID, "RF001")
	if p.Has(KEY_ALARM) || p.Has(KEY_INPUT) {
		t.Error("empty values should not be stored")
	}
	if !p.Has(KEY_STATUS) || p.Attributes[KEY_DRIVER_UNIQUE_ID] != "RF001" {
		t.Error("values missing")
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NextID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id %q", id)
		}
		seen[id] = true
	}
}
