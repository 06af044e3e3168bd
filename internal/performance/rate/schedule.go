// Package rate computes iteration start times for arrival-rate executors.
//
// The target rate is piecewise linear: it starts at a start rate and moves
// linearly to each stage's target over the stage's duration. Arrival k is
// scheduled at the instant the cumulative number of expected arrivals
// reaches k, so the schedule is deterministic and independent of how fast
// iterations complete.
//
// # Example
//
//	s := rate.NewSchedule(0, time.Second, []rate.Stage{
//	    {Duration: 10 * time.Second, Target: 50},
//	    {Duration: 20 * time.Second, Target: 50},
//	})
//
//	it := s.Iterator()
//	for {
//	    offset, ok := it.Next()
//	    if !ok {
//	        break
//	    }
//	    // start an iteration at start+offset
//	}
package rate

import (
	"math"
	"time"
)

// epsilon absorbs float error when comparing cumulative arrival counts.
const epsilon = 1e-9

// Stage is one leg of the rate profile.
type Stage struct {
	// Duration of the leg
	Duration time.Duration

	// Target rate reached at the end of the leg, in iterations per time unit
	Target float64
}

// segment is a stage with rates normalized to iterations per second.
type segment struct {
	start    time.Duration
	duration time.Duration
	from     float64
	to       float64
	// arrivals expected before the segment starts
	before float64
}

func (s segment) seconds() float64 { return s.duration.Seconds() }

// arrivals returns the expected arrivals within the segment.
func (s segment) arrivals() float64 {
	return s.seconds() * (s.from + s.to) / 2
}

// Schedule is an immutable arrival timetable.
type Schedule struct {
	segments []segment
	total    time.Duration
	expected float64
	// first is the cumulative count at which arrival 0 happens
	first float64
}

// NewSchedule builds the schedule for a rate that starts at startRate and
// follows stages. Rates are expressed per timeUnit (one second when zero).
// Negative rates are treated as zero.
func NewSchedule(startRate float64, timeUnit time.Duration, stages []Stage) *Schedule {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	perSecond := func(r float64) float64 {
		if r <= 0 || math.IsNaN(r) {
			return 0
		}
		return r / timeUnit.Seconds()
	}

	s := &Schedule{segments: make([]segment, 0, len(stages))}

	from := perSecond(startRate)
	var at time.Duration
	var before float64
	for _, st := range stages {
		if st.Duration <= 0 {
			from = perSecond(st.Target)
			continue
		}
		seg := segment{
			start:    at,
			duration: st.Duration,
			from:     from,
			to:       perSecond(st.Target),
			before:   before,
		}
		s.segments = append(s.segments, seg)
		before += seg.arrivals()
		at += st.Duration
		from = seg.to
	}

	s.total = at
	s.expected = before
	if len(s.segments) == 0 || s.segments[0].from <= 0 {
		// nothing is due at t=0 when the profile starts from zero
		s.first = 1
	}
	return s
}

// Duration returns the total length of the profile.
func (s *Schedule) Duration() time.Duration {
	return s.total
}

// RateAt returns the target rate in iterations per second at offset t.
func (s *Schedule) RateAt(t time.Duration) float64 {
	seg, ok := s.segmentAt(t)
	if !ok {
		if len(s.segments) == 0 {
			return 0
		}
		return s.segments[len(s.segments)-1].to
	}
	if seg.duration == 0 {
		return seg.to
	}
	p := float64(t-seg.start) / float64(seg.duration)
	return seg.from + (seg.to-seg.from)*p
}

// StageAt returns the index of the stage active at offset t, or -1 past the
// end.
func (s *Schedule) StageAt(t time.Duration) int {
	for i, seg := range s.segments {
		if t < seg.start+seg.duration {
			return i
		}
	}
	return -1
}

// Cumulative returns the expected number of arrivals in [0, t).
func (s *Schedule) Cumulative(t time.Duration) float64 {
	if t <= 0 {
		return 0
	}
	if t >= s.total {
		return s.expected
	}
	seg, _ := s.segmentAt(t)
	tau := (t - seg.start).Seconds()
	slope := 0.0
	if seg.seconds() > 0 {
		slope = (seg.to - seg.from) / seg.seconds()
	}
	return seg.before + seg.from*tau + slope*tau*tau/2
}

// Count returns the number of arrivals the schedule will produce.
func (s *Schedule) Count() int64 {
	if s.expected-s.first <= epsilon {
		if s.first == 0 && s.expected > 0 {
			return 1
		}
		return 0
	}
	n := int64(math.Ceil(s.expected - s.first - epsilon))
	if n < 0 {
		n = 0
	}
	return n
}

// Offset returns when arrival k (zero-based) is due. ok is false when the
// schedule ends before arrival k.
func (s *Schedule) Offset(k int64) (time.Duration, bool) {
	if k < 0 || k >= s.Count() {
		return 0, false
	}
	want := float64(k) + s.first
	if want == 0 {
		return 0, true
	}

	for _, seg := range s.segments {
		n := want - seg.before
		if n > seg.arrivals()+epsilon {
			continue
		}
		tau, ok := solve(seg, n)
		if !ok {
			continue
		}
		d := seg.start + time.Duration(tau*float64(time.Second))
		if d >= s.total {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

// solve returns the seconds into seg at which n arrivals have accumulated.
func solve(seg segment, n float64) (float64, bool) {
	if n <= 0 {
		return 0, true
	}
	d := seg.seconds()
	a := (seg.to - seg.from) / (2 * d)
	b := seg.from

	disc := b*b + 4*a*n
	if disc < 0 {
		// float error at the very end of a decreasing leg
		disc = 0
	}
	den := b + math.Sqrt(disc)
	if den <= 0 {
		return 0, false
	}
	tau := 2 * n / den
	if tau > d {
		tau = d
	}
	return tau, true
}

func (s *Schedule) segmentAt(t time.Duration) (segment, bool) {
	for _, seg := range s.segments {
		if t >= seg.start && t < seg.start+seg.duration {
			return seg, true
		}
	}
	return segment{}, false
}

// Iterator walks the schedule in order. It is not safe for concurrent use.
type Iterator struct {
	s    *Schedule
	next int64
}

// Iterator returns an iterator positioned at the first arrival.
func (s *Schedule) Iterator() *Iterator {
	return &Iterator{s: s}
}

// Next returns the offset of the next arrival.
func (it *Iterator) Next() (time.Duration, bool) {
	d, ok := it.s.Offset(it.next)
	if !ok {
		return 0, false
	}
	it.next++
	return d, true
}

// Index returns how many arrivals the iterator has produced.
func (it *Iterator) Index() int64 {
	return it.next
}
