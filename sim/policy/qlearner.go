package policy

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/qlearning"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

const QLearnerName = "qlearner"

var (
	ErrLineLost  = errors.New("robot lost the line")
	ErrStepLimit = errors.New("step limit reached before the goal")
)

// Rewards for the outcome of one action
const (
	RewardGoal     = 100.0
	RewardOffLine  = -10.0
	RewardCentered = 1.0
	RewardEdge     = 0.2
	RewardBlind    = -1.0
)

// qStates is the number of sensor states: one bit per black sensor
const qStates = 1 << len(engine.Sensors)

// qActions are the rotation of each action in degrees, each followed by
// a fixed forward step.
var qActions = []float64{0, 10, -10, 25, -25}

const (
	qStepForward = 1.5
	// the greedy run may take this many times the training step budget
	executionStepFactor = 10
)

// QLearner trains a Q-table on the sensor states of the robot, then
// drives greedily with what it learned. Progress survives a pause or a
// reposition: a resumed run continues the interrupted trial or greedy
// drive from the current pose instead of resetting the robot.
type QLearner struct {
	settings qlearning.Settings
	rng      *rand.Rand

	mu         sync.Mutex
	trainer    *qlearning.Trainer
	trialsDone int
	// inTrial and executing mark a phase interrupted before it ended
	inTrial   bool
	executing bool
}

func NewQLearner(cfg Config) (*QLearner, error) {
	s := cfg.Training
	rng := cfg.rng()
	trainer, err := qlearning.New(qStates, len(qActions), s.Alpha, s.Gamma, qlearning.WithRand(rng))
	if err != nil {
		return nil, err
	}
	return &QLearner{
		settings: s,
		rng:      rng,
		trainer:  trainer,
	}, nil
}

func (*QLearner) Name() string { return QLearnerName }

// TrialsDone returns the number of completed training trials
func (q *QLearner) TrialsDone() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.trialsDone
}

// Table returns a copy of the learned Q-table
func (q *QLearner) Table() [][]float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.trainer.Table()
}

// Settings returns the training settings
func (q *QLearner) Settings() qlearning.Settings {
	return q.settings
}

func (q *QLearner) Run(ctx context.Context, r engine.Robot) error {
	if err := q.train(r); err != nil {
		return err
	}
	return q.execute(r)
}

// begin marks a phase as started and reports whether it was already
// running before an interruption
func (q *QLearner) begin(flag *bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	resumed := *flag
	*flag = true
	return resumed
}

func (q *QLearner) end(flag *bool) {
	q.mu.Lock()
	*flag = false
	q.mu.Unlock()
}

func (q *QLearner) train(r engine.Robot) error {
	for q.TrialsDone() < q.settings.Trials {
		if !q.begin(&q.inTrial) {
			r.Reset()
		}
		if err := q.trial(r); err != nil {
			return err
		}

		q.mu.Lock()
		q.inTrial = false
		q.trialsDone++
		done := q.trialsDone
		q.mu.Unlock()

		if done == q.settings.Trials {
			log.Printf("Q-learning finished %d trials", done)
		}
	}
	return nil
}

// trial runs one episode of at most Steps actions
func (q *QLearner) trial(r engine.Robot) error {
	for step := 0; step < q.settings.Steps; step++ {
		state := sensorState(r)

		q.mu.Lock()
		action := q.trainer.SelectAction(state, q.settings.Epsilon)
		q.mu.Unlock()

		applyAction(r, action)
		reward, terminal := evaluate(r)

		q.mu.Lock()
		q.trainer.Update(state, action, sensorState(r), reward)
		q.mu.Unlock()

		if err := r.Delay(); err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}
	return nil
}

// execute drives greedily until the goal. The robot is reset to the
// start pose only when the drive begins, not when it resumes.
func (q *QLearner) execute(r engine.Robot) error {
	if !q.begin(&q.executing) {
		r.Reset()
	}
	limit := q.settings.Steps * executionStepFactor
	for step := 0; step < limit; step++ {
		q.mu.Lock()
		action := q.trainer.Greedy(sensorState(r))
		q.mu.Unlock()

		applyAction(r, action)

		// an interrupted drive stays marked so that play resumes it
		if err := r.Delay(); err != nil {
			return err
		}
		if r.IsOnGoal() {
			q.end(&q.executing)
			return nil
		}
		if !r.IsOnLine() {
			q.end(&q.executing)
			return ErrLineLost
		}
	}
	q.end(&q.executing)
	return ErrStepLimit
}

// sensorState encodes the black sensors as bits: A=1, B=2, C=4
func sensorState(r engine.Robot) int {
	state := 0
	for i, s := range engine.Sensors {
		if r.Color(s) == world.Black {
			state |= 1 << i
		}
	}
	return state
}

func applyAction(r engine.Robot, action int) {
	if angle := qActions[action]; angle != 0 {
		r.Rotate(angle)
	}
	r.Forward(qStepForward)
}

// evaluate scores the pose reached by an action. Green is read from the
// sensors directly so that training does not mark the run as finished.
func evaluate(r engine.Robot) (float64, bool) {
	colors := make(map[engine.Sensor]world.Color, len(engine.Sensors))
	for _, s := range engine.Sensors {
		colors[s] = r.Color(s)
		if colors[s] == world.Green {
			return RewardGoal, true
		}
	}
	if !r.IsOnLine() {
		return RewardOffLine, true
	}

	switch {
	case colors[engine.SensorB] == world.Black:
		return RewardCentered, false
	case colors[engine.SensorA] == world.Black || colors[engine.SensorC] == world.Black:
		return RewardEdge, false
	default:
		return RewardBlind, false
	}
}
