package statemachine

import (
	"fmt"
	"strings"
)

// Actor is the component allowed to perform a transition
type Actor string

const (
	ActorDiner      Actor = "diner"
	ActorInitiator  Actor = "initiator"
	ActorReconciler Actor = "reconciler"
	ActorSweeper    Actor = "sweeper"
	ActorStaff      Actor = "staff"
)

// Transition defines a valid state change and who can perform it
type Transition[S ~string] struct {
	From  S     `json:"from"`
	To    S     `json:"to"`
	Actor Actor `json:"actor"`
}

type transitionKey[S ~string] struct {
	From  S
	To    S
	Actor Actor
}

// Machine is a closed transition table over one status type
type Machine[S ~string] struct {
	name        string
	transitions []Transition[S]
	lookup      map[transitionKey[S]]bool
}

func newMachine[S ~string](name string, transitions []Transition[S]) *Machine[S] {
	m := &Machine[S]{name: name, transitions: transitions, lookup: map[transitionKey[S]]bool{}}
	for _, t := range transitions {
		m.lookup[transitionKey[S]{t.From, t.To, t.Actor}] = true
	}
	return m
}

// CanTransition checks if a given actor can move from one state to another
func (m *Machine[S]) CanTransition(from, to S, actor Actor) error {
	if m.lookup[transitionKey[S]{from, to, actor}] {
		return nil
	}
	return fmt.Errorf("invalid %s transition: %s → %s is not allowed for actor '%s'. Valid transitions from %s are: %s",
		m.name, from, to, actor, from, m.describeValidFrom(from))
}

// ValidTransitionsFrom returns all valid next states from a given state
func (m *Machine[S]) ValidTransitionsFrom(status S) []S {
	var nexts []S
	seen := map[S]bool{}
	for _, t := range m.transitions {
		if t.From == status && !seen[t.To] {
			nexts = append(nexts, t.To)
			seen[t.To] = true
		}
	}
	return nexts
}

// Transitions returns the full table for documentation
func (m *Machine[S]) Transitions() []Transition[S] {
	return m.transitions
}

func (m *Machine[S]) describeValidFrom(status S) string {
	nexts := m.ValidTransitionsFrom(status)
	if len(nexts) == 0 {
		return "none (terminal state)"
	}
	names := make([]string, len(nexts))
	for i, s := range nexts {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
