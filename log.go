package esh

import "github.com/google/uuid"

// This file centralizes the structured zerolog call sites the rest of
// the package logs through — GC sweeps, coroutine switches, panics —
// so the rest of the package calls a named method instead of
// scattering ad hoc logging chains. The zero-value Logger
// (zerolog.Nop, the Options default) makes every one of these calls
// free when nobody asked for diagnostics.

func (s *State) logGCStart(budget int) {
	s.Logger.Debug().
		Int("budget", budget).
		Int("white", listLen(s.unvisited)).
		Int("gray", listLen(s.toVisit)).
		Int("black", listLen(s.visited)).
		Msg("gc: mark started")
}

func (s *State) logGCSweep(freed int) {
	s.Logger.Debug().
		Int("freed", freed).
		Msg("gc: swept")
}

func (s *State) logCoroutineSpawn(id uuid.UUID) {
	s.Logger.Debug().
		Str("thread", id.String()).
		Msg("coroutine: spawned")
}

func (s *State) logCoroutineSwitch(from, to uuid.UUID, reason string) {
	s.Logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("coroutine: switch")
}

func (s *State) logPanic(err error, caught bool) {
	s.Logger.Debug().
		Err(err).
		Bool("caught", caught).
		Msg("panic raised")
}

func listLen(head *Object) int {
	n := 0
	for o := head; o != nil; o = o.next {
		n++
	}
	return n
}
