package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

var (
	ErrNilMap   = errors.New("map cannot be nil")
	ErrNoPolicy = errors.New("no policy selected")
	ErrBusy     = errors.New("engine must be stopped")
)

// Engine owns the robot and the control goroutine that runs a Policy
type Engine struct {
	mu     sync.Mutex
	body   *Body
	config Config
	policy Policy
	hooks  Hooks

	status        Status
	request       Request
	statusBackup  Status
	repositioning bool
	// placed marks a pose set by hand while stopped; the next play keeps it
	placed  bool
	goal    bool
	visible bool
	delay   time.Duration

	wake      chan struct{}
	cancelRun context.CancelFunc
	stop      context.CancelFunc
	done      chan struct{}
}

// Option configures an Engine at construction
type Option func(*Engine)

// WithPolicy selects the initial policy
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithHooks sets the engine callbacks
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithHidden starts the engine with redraws disabled
func WithHidden() Option {
	return func(e *Engine) { e.visible = false }
}

// New creates a stopped engine on m. Call Start to launch the control
// goroutine.
func New(m *world.Map, cfg Config, opts ...Option) (*Engine, error) {
	if m == nil {
		return nil, ErrNilMap
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		body:    NewBody(m, cfg.Physics, cfg.Start),
		config:  cfg,
		status:  Stopped,
		visible: true,
		delay:   cfg.Delay,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start launches the control goroutine. It exits when ctx is cancelled
// or Close is called. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.done = make(chan struct{})
	go e.loop(ctx, e.done)
}

// Close interrupts any running policy and waits for the control
// goroutine to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

// SetPolicy selects the policy used by the next play request
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Policy returns the selected policy, or nil
func (e *Engine) Policy() Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// SetHooks replaces the engine callbacks
func (e *Engine) SetHooks(h Hooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

// Reconfigure swaps the map and configuration. The engine must be
// stopped.
func (e *Engine) Reconfigure(m *world.Map, cfg Config) error {
	if m == nil {
		return ErrNilMap
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Stopped || e.request != RequestNone || e.repositioning {
		return ErrBusy
	}
	e.body = NewBody(m, cfg.Physics, cfg.Start)
	e.config = cfg
	e.placed = false
	return nil
}

// Status returns the current execution state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RequestPlay asks the engine to run the selected policy. Playing from
// Stopped reinitializes pose and metrics. It is rejected only while a
// reposition is in progress.
func (e *Engine) RequestPlay() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repositioning {
		return false
	}
	e.submitLocked(RequestPlay)
	return true
}

// RequestPause suspends a running policy
func (e *Engine) RequestPause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Running || e.repositioning {
		return false
	}
	e.submitLocked(RequestPause)
	return true
}

// RequestStop stops a running or suspended policy
func (e *Engine) RequestStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Running && e.status != Suspended {
		return false
	}
	if e.repositioning {
		return false
	}
	e.submitLocked(RequestStop)
	return true
}

// BeginReposition records the current status and moves the engine to
// Repositioning. It is always accepted.
func (e *Engine) BeginReposition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.repositioning {
		e.statusBackup = e.status
		e.repositioning = true
	}
	e.submitLocked(RequestReposition)
}

// UpdatePosition moves the robot during a reposition
func (e *Engine) UpdatePosition(x, y float64) bool {
	e.mu.Lock()
	if !e.repositioning {
		e.mu.Unlock()
		return false
	}
	e.body.Place(x, y)
	visible := e.visible
	e.mu.Unlock()

	if visible {
		e.redraw()
	}
	return true
}

// EndReposition commits the final position and restores the status
// recorded by BeginReposition.
func (e *Engine) EndReposition(x, y float64) bool {
	e.mu.Lock()
	if !e.repositioning {
		e.mu.Unlock()
		return false
	}
	e.body.Place(x, y)
	e.repositioning = false

	switch e.statusBackup {
	case Running:
		e.submitLocked(RequestPlay)
	case Suspended:
		e.submitLocked(RequestPause)
	default:
		e.placed = true
		e.submitLocked(RequestStop)
	}
	visible := e.visible
	e.mu.Unlock()

	if visible {
		e.redraw()
	}
	return true
}

// SetHeading sets the heading directly. While stopped, the manual pose
// is kept by the next play instead of being reinitialized.
func (e *Engine) SetHeading(heading float64) {
	e.mu.Lock()
	e.body.SetHeading(heading)
	if e.status == Stopped || e.repositioning {
		e.placed = true
	}
	visible := e.visible
	e.mu.Unlock()

	if visible {
		e.redraw()
	}
}

// SetVisibility toggles redraw notifications. The engine keeps running
// while hidden. One redraw is emitted on every toggle.
func (e *Engine) SetVisibility(visible bool) {
	e.mu.Lock()
	e.visible = visible
	e.mu.Unlock()
	e.redraw()
}

// Visible reports whether redraws are requested while pacing
func (e *Engine) Visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

// SetDelay sets the pacing delay used by Robot.Delay
func (e *Engine) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetSpeed sets the pacing delay from a speed level
func (e *Engine) SetSpeed(level int) time.Duration {
	d := SpeedDelay(level)
	e.SetDelay(d)
	return d
}

// PacingDelay returns the current pacing delay
func (e *Engine) PacingDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Telemetry returns a consistent snapshot for display
func (e *Engine) Telemetry() Telemetry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.telemetryLocked()
}

func (e *Engine) telemetryLocked() Telemetry {
	sensors := make(map[string]world.Color, len(Sensors))
	for _, s := range Sensors {
		sensors[s.String()] = e.body.Color(s)
	}

	tel := Telemetry{
		Pose:      e.body.Pose(),
		Metrics:   e.body.Metrics(),
		OnLine:    e.body.IsOnLine(),
		Sensors:   sensors,
		Status:    e.status,
		Visible:   e.visible,
		Delay:     e.delay,
		Map:       e.body.Map().Name(),
		RobotSize: e.config.Physics.RobotSize,
	}
	if e.policy != nil {
		tel.Policy = e.policy.Name()
	}
	return tel
}

// submitLocked overwrites the request slot, interrupts a running policy
// and wakes the control goroutine. e.mu must be held.
func (e *Engine) submitLocked(req Request) {
	e.request = req
	if e.cancelRun != nil {
		e.cancelRun()
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) withBody(fn func(b *Body)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.body)
}

func (e *Engine) markGoal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.goal = true
}

func (e *Engine) redraw() {
	e.mu.Lock()
	onRedraw := e.hooks.OnRedraw
	var tel Telemetry
	if onRedraw != nil {
		tel = e.telemetryLocked()
	}
	e.mu.Unlock()

	if onRedraw != nil {
		onRedraw(tel)
	}
}

// loop is the control goroutine
func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for e.await(ctx) {
		e.step(ctx)
	}
}

// await blocks until a request is pending. The wake channel holds one
// token, so a request submitted between the check and the receive is
// never missed.
func (e *Engine) await(ctx context.Context) bool {
	for {
		e.mu.Lock()
		pending := e.request != RequestNone
		e.mu.Unlock()
		if pending {
			return true
		}

		select {
		case <-e.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// step consumes the pending request and applies its transition
func (e *Engine) step(ctx context.Context) {
	e.mu.Lock()
	req := e.request
	e.request = RequestNone

	switch req {
	case RequestPlay:
		if e.status == Stopped {
			if e.placed {
				e.body.ResetMetrics()
			} else {
				e.body.Reset()
			}
		}
		e.placed = false
		e.goal = false
		e.status = Running

		runCtx, cancel := context.WithCancel(ctx)
		e.cancelRun = cancel
		policy := e.policy
		mapName := e.body.Map().Name()
		e.mu.Unlock()

		result := e.execute(runCtx, policy, mapName)
		cancel()

		e.mu.Lock()
		e.cancelRun = nil
		if e.request == RequestNone {
			e.status = Stopped
		}
		// a run cut short by Close is not a completed run
		finished := e.request == RequestNone && ctx.Err() == nil
		hooks := e.hooks
		e.mu.Unlock()

		if finished {
			if hooks.OnExternalStop != nil {
				hooks.OnExternalStop()
			}
			if hooks.OnRunComplete != nil {
				hooks.OnRunComplete(result)
			}
		}
		return

	case RequestPause:
		e.status = Suspended
	case RequestStop:
		e.status = Stopped
	case RequestReposition:
		e.status = Repositioning
	}
	e.mu.Unlock()
}

// execute runs the policy to completion or interruption. Errors and
// panics are logged and reported on the result; committed pose and
// metrics are left as they are.
func (e *Engine) execute(ctx context.Context, p Policy, mapName string) (result RunResult) {
	result.Map = mapName
	result.StartedAt = time.Now()

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("policy %s panicked: %v", result.Policy, r)
			log.Printf("Policy %s failed: %v", result.Policy, r)
		}
		e.mu.Lock()
		result.Metrics = e.body.Metrics()
		result.Goal = e.goal
		e.mu.Unlock()
		result.EndedAt = time.Now()
	}()

	if p == nil {
		result.Err = ErrNoPolicy
		log.Printf("Play requested on map %s: %v", mapName, ErrNoPolicy)
		return
	}
	result.Policy = p.Name()

	err := p.Run(ctx, &control{e: e, ctx: ctx})
	if err != nil && !errors.Is(err, ErrInterrupted) && !errors.Is(err, context.Canceled) {
		result.Err = err
		log.Printf("Policy %s failed: %v", p.Name(), err)
	}
	return
}
