// Package qlearning implements a tabular Q-learning trainer with
// epsilon-greedy action selection.
//
// The trainer owns a dense states x actions table initialized to zero.
// It is not safe for concurrent use: the training loop that drives it is
// expected to be its only user.
package qlearning

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var ErrInvalidParam = errors.New("invalid q-learning parameter")

// Trainer holds a Q-table and the fixed learning parameters
type Trainer struct {
	table [][]float64
	alpha float64
	gamma float64
	rng   *rand.Rand
}

// Option configures a Trainer
type Option func(*Trainer)

// WithRand sets the random source used for exploration and tie-breaking
func WithRand(rng *rand.Rand) Option {
	return func(t *Trainer) { t.rng = rng }
}

// New creates a trainer for the given table dimensions. alpha is the
// learning rate and gamma the discount factor, both in [0, 1].
func New(states, actions int, alpha, gamma float64, opts ...Option) (*Trainer, error) {
	if states < 1 || actions < 1 {
		return nil, fmt.Errorf("%w: table must be at least 1x1, got %dx%d", ErrInvalidParam, states, actions)
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: alpha must be in [0,1], got %v", ErrInvalidParam, alpha)
	}
	if gamma < 0 || gamma > 1 {
		return nil, fmt.Errorf("%w: gamma must be in [0,1], got %v", ErrInvalidParam, gamma)
	}

	table := make([][]float64, states)
	for s := range table {
		table[s] = make([]float64, actions)
	}

	t := &Trainer{
		table: table,
		alpha: alpha,
		gamma: gamma,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// States returns the number of states
func (t *Trainer) States() int { return len(t.table) }

// Actions returns the number of actions
func (t *Trainer) Actions() int { return len(t.table[0]) }

// Alpha returns the learning rate
func (t *Trainer) Alpha() float64 { return t.alpha }

// Gamma returns the discount factor
func (t *Trainer) Gamma() float64 { return t.gamma }

// SelectAction picks an action epsilon-greedily. With probability
// epsilon the best known action is exploited; otherwise an action is
// drawn uniformly at random. Ties between best actions are broken by a
// scan that starts at a random index, so equal values do not always
// favor action 0.
func (t *Trainer) SelectAction(state int, epsilon float64) int {
	row := t.table[state]

	start := t.rng.Intn(len(row))
	best := start
	for i := 1; i < len(row); i++ {
		a := (start + i) % len(row)
		if row[a] > row[best] {
			best = a
		}
	}

	if t.rng.Float64() < epsilon {
		return best
	}
	return t.rng.Intn(len(row))
}

// Greedy returns the action with the highest value for state. The scan
// starts at action 0 and the first maximum wins.
func (t *Trainer) Greedy(state int) int {
	row := t.table[state]
	best := 0
	for a := 1; a < len(row); a++ {
		if row[a] > row[best] {
			best = a
		}
	}
	return best
}

// Update applies the temporal-difference rule
//
//	Q[s][a] += alpha * (reward + gamma*max(Q[next]) - Q[s][a])
func (t *Trainer) Update(state, action, next int, reward float64) {
	target := reward + t.gamma*t.MaxValue(next)
	t.table[state][action] += t.alpha * (target - t.table[state][action])
}

// Value returns Q[state][action]
func (t *Trainer) Value(state, action int) float64 {
	return t.table[state][action]
}

// MaxValue returns the highest value tabled for state
func (t *Trainer) MaxValue(state int) float64 {
	return t.table[state][t.Greedy(state)]
}

// Table returns a copy of the Q-table
func (t *Trainer) Table() [][]float64 {
	out := make([][]float64, len(t.table))
	for s, row := range t.table {
		out[s] = append([]float64(nil), row...)
	}
	return out
}
