package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/policy"
	"github.com/wricardo/mcp-training/linetracer/sim/runlog"
)

// recordTimeout bounds the run log write made from the engine goroutine
const recordTimeout = 5 * time.Second

// simulationServiceImpl implements the SimulationService interface
type simulationServiceImpl struct {
	engine *engine.Engine
	maps   MapLoader
	runs   RunStore

	// mu serializes map and policy changes
	mu         sync.Mutex
	policyName string
	policyCfg  policy.Config

	waitMu  sync.Mutex
	waiters []chan *runlog.Run

	broadcaster Broadcaster
}

// NewSimulationService creates the service and its engine on the
// initial map. runs may be nil, in which case runs are not recorded.
func NewSimulationService(maps MapLoader, runs RunStore, opts Options) (SimulationService, error) {
	return newSimulationService(maps, runs, opts)
}

func newSimulationService(maps MapLoader, runs RunStore, opts Options) (*simulationServiceImpl, error) {
	mapName := opts.MapName
	if mapName == "" {
		mapName = maps.GetDefault()
	}
	if mapName == "" {
		return nil, ErrNoMaps
	}

	m, cfg, err := maps.LoadMap(mapName)
	if err != nil {
		return nil, fmt.Errorf("failed to load map %s: %w", mapName, err)
	}

	policyName := opts.PolicyName
	if policyName == "" {
		policyName = policy.LineTracerName
	}
	p, err := policy.New(policyName, opts.Policy)
	if err != nil {
		return nil, err
	}

	s := &simulationServiceImpl{
		maps:        maps,
		runs:        runs,
		policyName:  policyName,
		policyCfg:   opts.Policy,
		broadcaster: opts.Broadcaster,
	}

	engineOpts := []engine.Option{
		engine.WithPolicy(p),
		engine.WithHooks(engine.Hooks{
			OnRedraw:       s.onRedraw,
			OnExternalStop: s.onExternalStop,
			OnRunComplete:  s.onRunComplete,
		}),
	}
	if opts.Hidden {
		engineOpts = append(engineOpts, engine.WithHidden())
	}

	s.engine, err = engine.New(m, cfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	s.engine.SetDelay(opts.Delay)

	return s, nil
}

// Start launches the engine's control goroutine
func (s *simulationServiceImpl) Start(ctx context.Context) {
	s.engine.Start(ctx)
}

// Close stops the engine
func (s *simulationServiceImpl) Close() {
	s.engine.Close()
}

func (s *simulationServiceImpl) control(name string, accepted bool) *ControlResult {
	tel := s.engine.Telemetry()
	msg := fmt.Sprintf("%s requested", name)
	if !accepted {
		msg = fmt.Sprintf("%s rejected while %s", name, tel.Status)
	}
	return &ControlResult{
		Request:  name,
		Accepted: accepted,
		Status:   tel.Status,
		Message:  msg,
		State:    &tel,
	}
}

// Play starts or resumes the selected policy
func (s *simulationServiceImpl) Play(ctx context.Context) (*ControlResult, error) {
	return s.control("play", s.engine.RequestPlay()), nil
}

// Pause suspends a running policy
func (s *simulationServiceImpl) Pause(ctx context.Context) (*ControlResult, error) {
	return s.control("pause", s.engine.RequestPause()), nil
}

// Stop stops a running or suspended policy
func (s *simulationServiceImpl) Stop(ctx context.Context) (*ControlResult, error) {
	return s.control("stop", s.engine.RequestStop()), nil
}

// RunToCompletion plays the selected policy and waits until the run
// ends on its own. Cancelling ctx stops the run.
func (s *simulationServiceImpl) RunToCompletion(ctx context.Context) (*runlog.Run, error) {
	done := make(chan *runlog.Run, 1)
	s.waitMu.Lock()
	s.waiters = append(s.waiters, done)
	s.waitMu.Unlock()

	if !s.engine.RequestPlay() {
		s.dropWaiter(done)
		return nil, ErrRejected
	}

	select {
	case run := <-done:
		return run, nil
	case <-ctx.Done():
		s.dropWaiter(done)
		s.engine.RequestStop()
		return nil, ctx.Err()
	}
}

func (s *simulationServiceImpl) dropWaiter(done chan *runlog.Run) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	for i, w := range s.waiters {
		if w == done {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// BeginReposition suspends control while the robot is placed by hand
func (s *simulationServiceImpl) BeginReposition(ctx context.Context) (*engine.Telemetry, error) {
	s.engine.BeginReposition()
	return s.Telemetry(ctx)
}

// UpdatePosition moves the robot during a reposition
func (s *simulationServiceImpl) UpdatePosition(ctx context.Context, x, y float64) (*engine.Telemetry, error) {
	if !s.engine.UpdatePosition(x, y) {
		return nil, ErrNotRepositioning
	}
	return s.Telemetry(ctx)
}

// EndReposition commits the position and restores the prior status
func (s *simulationServiceImpl) EndReposition(ctx context.Context, x, y float64) (*engine.Telemetry, error) {
	if !s.engine.EndReposition(x, y) {
		return nil, ErrNotRepositioning
	}
	return s.Telemetry(ctx)
}

// SetHeading turns the robot in place without physics
func (s *simulationServiceImpl) SetHeading(ctx context.Context, heading float64) (*engine.Telemetry, error) {
	if math.IsNaN(heading) || math.IsInf(heading, 0) {
		return nil, fmt.Errorf("invalid heading: %v", heading)
	}
	s.engine.SetHeading(heading)
	return s.Telemetry(ctx)
}

// SetVisibility toggles redraw notifications
func (s *simulationServiceImpl) SetVisibility(ctx context.Context, visible bool) (*engine.Telemetry, error) {
	s.engine.SetVisibility(visible)
	return s.Telemetry(ctx)
}

// SetSpeed sets the pacing delay from a speed level
func (s *simulationServiceImpl) SetSpeed(ctx context.Context, level int) (*engine.Telemetry, error) {
	if level < 1 || level > engine.MaxSpeedLevel {
		return nil, fmt.Errorf("speed level must be between 1 and %d, got %d", engine.MaxSpeedLevel, level)
	}
	s.engine.SetSpeed(level)
	return s.Telemetry(ctx)
}

// Telemetry returns the current engine snapshot
func (s *simulationServiceImpl) Telemetry(ctx context.Context) (*engine.Telemetry, error) {
	tel := s.engine.Telemetry()
	return &tel, nil
}

// ListMaps returns the available maps
func (s *simulationServiceImpl) ListMaps(ctx context.Context) ([]*config.MapInfo, error) {
	return s.maps.ListConfigs()
}

// LoadMap switches the engine to another map. The engine must be
// stopped. The selected policy is rebuilt so that learned state does
// not carry over between maps.
func (s *simulationServiceImpl) LoadMap(ctx context.Context, name string) (*engine.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, cfg, err := s.maps.LoadMap(name)
	if err != nil {
		return nil, err
	}
	if s.engine.Status() != engine.Stopped {
		return nil, engine.ErrBusy
	}
	p, err := policy.New(s.policyName, s.policyCfg)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Reconfigure(m, cfg); err != nil {
		return nil, err
	}
	s.engine.SetPolicy(p)

	tel := s.engine.Telemetry()
	if b := s.broadcaster; b != nil {
		b.BroadcastEvent(EventMapLoaded, tel)
	}
	log.Printf("Loaded map %s (start %.0f,%.0f heading %.0f)", m.Name(), cfg.Start.X, cfg.Start.Y, cfg.Start.Heading)
	return &tel, nil
}

// ListPolicies returns the selectable policies
func (s *simulationServiceImpl) ListPolicies(ctx context.Context) ([]*PolicyInfo, error) {
	s.mu.Lock()
	active := s.policyName
	s.mu.Unlock()

	names := policy.Names()
	infos := make([]*PolicyInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, &PolicyInfo{
			Name:        name,
			Description: policy.Description(name),
			Active:      name == active,
		})
	}
	return infos, nil
}

// SelectPolicy installs a fresh instance of the named policy. The
// engine must be stopped.
func (s *simulationServiceImpl) SelectPolicy(ctx context.Context, name string) (*engine.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := policy.New(name, s.policyCfg)
	if err != nil {
		return nil, err
	}
	if s.engine.Status() != engine.Stopped {
		return nil, engine.ErrBusy
	}
	s.engine.SetPolicy(p)
	s.policyName = name

	tel := s.engine.Telemetry()
	if b := s.broadcaster; b != nil {
		b.BroadcastEvent(EventPolicy, tel)
	}
	return &tel, nil
}

// ListRuns returns recorded runs, newest first
func (s *simulationServiceImpl) ListRuns(ctx context.Context, filter runlog.Filter) ([]runlog.Run, error) {
	if s.runs == nil {
		return []runlog.Run{}, nil
	}
	return s.runs.List(ctx, filter)
}

// GetRun returns a recorded run
func (s *simulationServiceImpl) GetRun(ctx context.Context, id string) (*runlog.Run, error) {
	if s.runs == nil {
		return nil, runlog.ErrRunNotFound
	}
	return s.runs.Get(ctx, id)
}

func (s *simulationServiceImpl) onRedraw(tel engine.Telemetry) {
	if b := s.broadcaster; b != nil {
		b.BroadcastTelemetry(tel)
	}
}

func (s *simulationServiceImpl) onExternalStop() {
	if b := s.broadcaster; b != nil {
		b.BroadcastEvent(EventStopped, s.engine.Telemetry())
	}
}

func (s *simulationServiceImpl) onRunComplete(result engine.RunResult) {
	if result.Goal {
		log.Printf("Run: %.1fcm Miss: %.1fcm", tenth(result.Metrics.DistanceTraveled), tenth(result.Metrics.DistanceOffLine))
	} else if result.Err != nil && !errors.Is(result.Err, engine.ErrNoPolicy) {
		log.Printf("Run of %s on %s ended: %v", result.Policy, result.Map, result.Err)
	}

	run := runlog.FromResult(result)
	if s.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		recorded, err := s.runs.Record(ctx, result)
		cancel()
		if err != nil {
			log.Printf("Failed to record run: %v", err)
		} else {
			run = recorded
		}
	}

	if b := s.broadcaster; b != nil {
		b.BroadcastEvent(EventRunComplete, run)
	}

	s.waitMu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.waitMu.Unlock()
	for _, w := range waiters {
		w <- run
	}
}

// tenth truncates a distance to 0.1 cm
func tenth(cm float64) float64 {
	return math.Trunc(cm*10) / 10
}
