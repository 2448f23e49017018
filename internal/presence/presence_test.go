package presence

import (
	"testing"
	"time"

	"github.com/picron-io/picron-agent/internal/timeutil"
)

// sequence replays levels and then repeats the last one.
type sequence struct {
	levels []bool
	reads  int
}

func (s *sequence) Read() bool {
	i := s.reads
	if i >= len(s.levels) {
		i = len(s.levels) - 1
	}
	s.reads++
	return s.levels[i]
}

func TestDebouncer(t *testing.T) {
	tests := []struct {
		name      string
		levels    []bool
		samples   int
		want      bool
		wantReads int
	}{
		{"steady active", []bool{true}, 3, true, 3},
		{"steady inactive", []bool{false}, 3, false, 3},
		{"bounce then settle", []bool{true, false, true, true, true}, 3, true, 5},
		{"single sample", []bool{true}, 1, true, 1},
		{"never settles keeps inactive", []bool{true, false, true, false, true, false, true, false, true, false, true, false, true}, 3, false, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &sequence{levels: tt.levels}
			clock := timeutil.NewMockClock(time.Unix(0, 0))
			d := NewDebouncer(in, tt.samples, 10*time.Millisecond, clock)

			if got := d.Present(); got != tt.want {
				t.Errorf("Present() = %v, want %v", got, tt.want)
			}
			if in.reads != tt.wantReads {
				t.Errorf("reads = %d, want %d", in.reads, tt.wantReads)
			}
			if len(clock.Sleeps()) != tt.wantReads-1 {
				t.Errorf("sleeps = %d, want %d", len(clock.Sleeps()), tt.wantReads-1)
			}
		})
	}
}

func TestDebouncerHoldsLastStableLevel(t *testing.T) {
	m := &Manual{}
	m.Set(true)
	d := NewDebouncer(m, 2, time.Millisecond, timeutil.NewMockClock(time.Unix(0, 0)))
	if !d.Present() {
		t.Fatal("expected present")
	}

	flip := false
	d.in = InputFunc(func() bool { flip = !flip; return flip })
	if !d.Present() {
		t.Error("chattering input should keep the last stable level")
	}
}

func TestAlwaysAndManual(t *testing.T) {
	if !Always(true).Present() || Always(false).Present() {
		t.Error("Always should report its value")
	}
	m := &Manual{}
	if m.Read() {
		t.Error("Manual starts inactive")
	}
	m.Set(true)
	if !m.Read() {
		t.Error("Manual should follow Set")
	}
}
