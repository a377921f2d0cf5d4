package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// dstSchedule wraps a cron schedule so an occurrence whose local wall-clock
// time is erased by a spring-forward transition fires at the first valid
// instant after the jump instead of being dropped for the whole cycle.
// Fall-back transitions need no help: time runs strictly forward, so the
// repeated hour fires once.
type dstSchedule struct {
	inner cron.Schedule
}

func (d dstSchedule) Next(t time.Time) time.Time {
	n := d.inner.Next(t)
	if n.IsZero() {
		return n
	}
	tr, gap, ok := forwardTransition(t, n)
	if !ok {
		return n
	}
	// Re-evaluate in the pre-transition offset, where every wall-clock time
	// exists. Landing inside [tr, tr+gap) means the real occurrence was
	// erased by the jump; the equality guard keeps interval schedules, whose
	// next instant is absolute and unaffected, from firing early.
	_, off := tr.Add(-time.Second).Zone()
	fixed := time.FixedZone("", off)
	m := d.inner.Next(t.In(fixed))
	if !m.Before(tr) && m.Before(tr.Add(gap)) && !m.Equal(n) {
		return tr.In(t.Location())
	}
	return n
}

// forwardTransition finds the instant in (from, to] where the UTC offset
// increases, if any. At most one transition per window is assumed, which
// holds for any cadence up to a few months.
func forwardTransition(from, to time.Time) (time.Time, time.Duration, bool) {
	_, o1 := from.Zone()
	_, o2 := to.Zone()
	if o2 <= o1 {
		return time.Time{}, 0, false
	}
	lo, hi := from, to
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if _, om := mid.Zone(); om == o1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	// Transitions sit on whole seconds; truncating strips the search residue.
	return hi.Truncate(time.Second), time.Duration(o2-o1) * time.Second, true
}
