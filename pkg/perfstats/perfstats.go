package perfstats

import (
	"fmt"
	"strings"
	"time"
)

// Accumulator sums float samples, so that we can report totals and means.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Add(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Mean() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// TimeAccumulator measures how long something took, over many repetitions
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Add(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Since adds the time elapsed since start, and returns the current time,
// so that consecutive stages can be timed with a single clock variable.
func (a *TimeAccumulator) Since(start time.Time) time.Time {
	now := time.Now()
	a.Add(now.Sub(start))
	return now
}

func (a *TimeAccumulator) Mean() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Stages is a fixed set of named timers, reported in the order they were declared
type Stages struct {
	names  []string
	timers []TimeAccumulator
}

func NewStages(names ...string) *Stages {
	return &Stages{
		names:  names,
		timers: make([]TimeAccumulator, len(names)),
	}
}

// Stage returns the timer for the named stage, or nil if there is no such stage
func (s *Stages) Stage(name string) *TimeAccumulator {
	for i, n := range s.names {
		if n == name {
			return &s.timers[i]
		}
	}
	return nil
}

// Means returns the average duration of each stage, keyed by stage name
func (s *Stages) Means() map[string]time.Duration {
	m := map[string]time.Duration{}
	for i, n := range s.names {
		m[n] = s.timers[i].Mean()
	}
	return m
}

// String is a compact one-line summary, eg "decode 2.1ms, detect 31.0ms"
func (s *Stages) String() string {
	parts := []string{}
	for i, n := range s.names {
		mean := s.timers[i].Mean()
		parts = append(parts, fmt.Sprintf("%v %.1fms", n, float64(mean.Microseconds())/1000))
	}
	return strings.Join(parts, ", ")
}
