// Command linetracer runs the line tracer robot simulator.
//
// Commands:
//  1. "server" (default) runs the HTTP server exposing the REST API, the
//     telemetry WebSocket and an /mcp HTTP endpoint
//  2. "stdio-mcp" runs an MCP stdio server and spins up an internal HTTP
//     API if none is available
//  3. "run" drives the selected policy headless until it ends and prints
//     the distances
//  4. "train" trains the Q-learning policy, then runs it greedily
//
// Flags control host/port, config directory, debug logging, the run log
// database, training hyperparameters and optional ngrok tunneling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/linetracer/api"
	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/policy"
	"github.com/wricardo/mcp-training/linetracer/sim/qlearning"
	"github.com/wricardo/mcp-training/linetracer/sim/runlog"
	"github.com/wricardo/mcp-training/linetracer/sim/service"
	"github.com/wricardo/mcp-training/linetracer/transport/mcp"
	"github.com/wricardo/mcp-training/linetracer/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Line Tracer Simulator"
)

// telemetryInterval paces the websocket telemetry publisher
const telemetryInterval = 500 * time.Millisecond

// main loads the environment and runs the command line app
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

// newApp builds the root command with all subcommands
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "linetracer",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Value:   "localhost",
				Usage:   "HTTP server host",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   "configs",
				Usage:   "Directory containing map configurations",
				Sources: cli.EnvVars("CONFIG_DIR"),
			},
			&cli.StringFlag{
				Name:  "map",
				Usage: "Initial map ID (defaults to the config manager default)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Initial policy: " + strings.Join(policy.Names(), ", "),
			},
			&cli.DurationFlag{
				Name:  "delay",
				Value: engine.DefaultDelay,
				Usage: "Pacing delay between robot steps",
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Run log database (sqlite file, or :memory:); empty disables the run log",
				Sources: cli.EnvVars("RUNLOG_DSN"),
			},
			&cli.StringFlag{
				Name:    "training",
				Usage:   "Training hyperparameters YAML file",
				Sources: cli.EnvVars("TRAINING_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			} else {
				log.SetFlags(log.LstdFlags)
			}
			return ctx, nil
		},
		Action: runHTTPServer,
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket, and MCP endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "ngrok",
						Usage:   "Enable ngrok tunnel",
						Sources: cli.EnvVars("NGROK_ENABLED"),
					},
					&cli.StringFlag{
						Name:    "ngrok-auth",
						Usage:   "Ngrok auth token",
						Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
					},
					&cli.StringFlag{
						Name:    "ngrok-domain",
						Usage:   "Custom ngrok domain (optional)",
						Sources: cli.EnvVars("NGROK_DOMAIN"),
					},
				},
				Action: runHTTPServer,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action:  runStdioMCP,
			},
			{
				Name:  "run",
				Usage: "Drive the selected policy headless until it ends",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 5 * time.Minute,
						Usage: "Stop the run after this long",
					},
				},
				Action: runHeadless,
			},
			{
				Name:   "train",
				Usage:  "Train the Q-learning policy, then run it greedily",
				Action: runTrain,
			},
		},
	}
}

// loadTraining reads the training file when one is configured
func loadTraining(cmd *cli.Command) (*qlearning.TrainingConfig, error) {
	path := cmd.String("training")
	if path == "" {
		return &qlearning.TrainingConfig{}, nil
	}
	tc, err := qlearning.FromYaml(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training config %s: %w", path, err)
	}
	return tc, nil
}

// buildOptions turns flags and the training file into service options
func buildOptions(cmd *cli.Command, tc *qlearning.TrainingConfig) service.Options {
	opts := service.DefaultOptions()
	opts.MapName = cmd.String("map")
	opts.PolicyName = tc.PolicyName(policy.LineTracerName)
	if name := cmd.String("policy"); name != "" {
		opts.PolicyName = name
	}
	opts.Policy.Training = tc.Settings()
	opts.Delay = cmd.Duration("delay")
	return opts
}

// openRunLog opens the run log when a DSN is configured. The returned
// store is nil otherwise.
func openRunLog(cmd *cli.Command) (*runlog.Store, error) {
	dsn := cmd.String("db")
	if dsn == "" {
		return nil, nil
	}
	return runlog.Open(dsn)
}

// initializeService wires the config manager, run log and simulation
// service. The caller closes the returned store when it is not nil.
func initializeService(cmd *cli.Command, opts service.Options) (service.SimulationService, *runlog.Store, error) {
	maps, err := config.NewManager(cmd.String("config-dir"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	store, err := openRunLog(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}

	var runs service.RunStore
	if store != nil {
		runs = store
	}

	svc, err := service.NewSimulationService(maps, runs, opts)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return svc, store, nil
}

// mcpHandler serves MCP JSON-RPC messages over plain HTTP POST
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, and
// an /mcp proxy endpoint. If ngrok is enabled it also provisions a public
// tunnel.
func runHTTPServer(ctx context.Context, cmd *cli.Command) error {
	tc, err := loadTraining(cmd)
	if err != nil {
		return err
	}

	hub := websocket.NewHub()
	opts := buildOptions(cmd, tc)
	opts.Broadcaster = hub

	svc, store, err := initializeService(cmd, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if store != nil {
		defer store.Close()
	}
	defer svc.Close()

	log.Printf("Starting %s v%s", AppName, Version)

	addr := fmt.Sprintf("%s:%d", cmd.String("host"), cmd.Int("port"))
	mcpClient := mcp.NewClient(fmt.Sprintf("http://%s", addr))

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", api.NewServer(svc, hub))
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	svc.Start(groupCtx)

	group.Go(func() error {
		return hub.Run(groupCtx)
	})

	group.Go(func() error {
		return hub.PublishTelemetry(groupCtx, svc, telemetryInterval)
	})

	group.Go(func() error {
		log.Printf("HTTP server listening on %s", addr)
		log.Printf("REST API: http://%s/api", addr)
		log.Printf("WebSocket: ws://%s/ws", addr)
		log.Printf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Println("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	if cmd.Bool("ngrok") {
		group.Go(func() error {
			serveNgrok(groupCtx, cmd, mainRouter)
			return nil
		})
	}

	err = group.Wait()
	log.Println("Server stopped")
	return err
}

// serveNgrok exposes handler through an ngrok tunnel until ctx is done.
// Tunnel failures are logged; the local server keeps running.
func serveNgrok(ctx context.Context, cmd *cli.Command, handler http.Handler) {
	authToken := cmd.String("ngrok-auth")
	if authToken == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if domain := cmd.String("ngrok-domain"); domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Printf("Using custom ngrok domain: %s", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses an API at the
// configured host and port when one answers; otherwise it starts an
// internal HTTP API on a random loopback port.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	externalURL := fmt.Sprintf("http://%s:%d", cmd.String("host"), cmd.Int("port"))
	log.Printf("Checking for external API server at %s...", externalURL)

	baseURL := externalURL
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil {
		resp.Body.Close()
	}
	if err == nil && resp.StatusCode < 500 {
		log.Printf("External API server found at %s, using it for MCP", externalURL)
	} else {
		log.Printf("No external API server found, starting internal HTTP server")

		tc, err := loadTraining(cmd)
		if err != nil {
			return err
		}
		hub := websocket.NewHub()
		opts := buildOptions(cmd, tc)
		opts.Broadcaster = hub

		svc, store, err := initializeService(cmd, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}
		if store != nil {
			defer store.Close()
		}
		defer svc.Close()
		svc.Start(ctx)
		go hub.Run(ctx)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}

		internalAddr := listener.Addr().String()
		log.Printf("Starting internal HTTP server on %s for MCP stdio", internalAddr)

		httpServer := &http.Server{Handler: api.NewServer(svc, hub)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		defer httpServer.Close()

		baseURL = fmt.Sprintf("http://%s", internalAddr)
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Printf("MCP stdio server ready (API at %s)", baseURL)

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// runHeadless plays the selected policy once with no pacing and no
// redraws, and prints the recorded run
func runHeadless(ctx context.Context, cmd *cli.Command) error {
	tc, err := loadTraining(cmd)
	if err != nil {
		return err
	}
	opts := buildOptions(cmd, tc)
	opts.Delay = 0
	opts.Hidden = true

	svc, store, err := initializeService(cmd, opts)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	defer svc.Close()
	svc.Start(ctx)

	runCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	run, err := svc.RunToCompletion(runCtx)
	if err != nil {
		return fmt.Errorf("run did not complete: %w", err)
	}

	printRun(cmd.Root().Writer, run)
	return nil
}

// runTrain trains the Q-learning policy within the training deadline and
// then runs it greedily, printing the learned table
func runTrain(ctx context.Context, cmd *cli.Command) error {
	tc, err := loadTraining(cmd)
	if err != nil {
		return err
	}

	maps, err := config.NewManager(cmd.String("config-dir"))
	if err != nil {
		return fmt.Errorf("failed to create config manager: %w", err)
	}
	mapName := cmd.String("map")
	if mapName == "" {
		mapName = maps.GetDefault()
	}
	m, cfg, err := maps.LoadMap(mapName)
	if err != nil {
		return err
	}

	learner, err := policy.NewQLearner(policy.Config{Training: tc.Settings()})
	if err != nil {
		return err
	}

	results := make(chan engine.RunResult, 1)
	cfg.Delay = 0
	eng, err := engine.New(m, cfg,
		engine.WithPolicy(learner),
		engine.WithHidden(),
		engine.WithHooks(engine.Hooks{
			OnRunComplete: func(r engine.RunResult) { results <- r },
		}),
	)
	if err != nil {
		return err
	}
	eng.Start(ctx)
	defer eng.Close()

	trainCtx, cancel, err := tc.Deadline(ctx)
	if err != nil {
		return fmt.Errorf("invalid training deadline: %w", err)
	}
	defer cancel()

	settings := learner.Settings()
	log.Printf("Training %s on %s: alpha=%.2f gamma=%.2f epsilon=%.2f trials=%d steps=%d",
		learner.Name(), m.Name(), settings.Alpha, settings.Gamma, settings.Epsilon, settings.Trials, settings.Steps)

	eng.RequestPlay()

	out := cmd.Root().Writer
	result, err := awaitTraining(ctx, trainCtx.Done(), learner, settings.Trials, results)
	if errors.Is(err, errTrainingDeadline) {
		eng.RequestStop()
		fmt.Fprintf(out, "Training stopped after %d of %d trials: %v\n", learner.TrialsDone(), settings.Trials, trainCtx.Err())
		printTable(out, learner.Table())
		return nil
	}
	if err != nil {
		return err
	}

	store, err := openRunLog(cmd)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	run := runlog.FromResult(result)
	if store != nil {
		defer store.Close()
		if run, err = store.Record(ctx, result); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Trials: %d\n", learner.TrialsDone())
	printTable(out, learner.Table())
	printRun(out, run)
	return nil
}

var errTrainingDeadline = errors.New("training deadline reached")

// trialCounter reports training progress
type trialCounter interface {
	TrialsDone() int
}

// awaitTraining waits for the run result. The deadline only applies
// while trials remain; the greedy run after training is bounded by ctx.
func awaitTraining(ctx context.Context, deadline <-chan struct{}, learner trialCounter, trials int, results <-chan engine.RunResult) (engine.RunResult, error) {
	done := make(chan struct{})
	defer close(done)
	poll := channerics.NewTicker(done, 50*time.Millisecond)

	for {
		select {
		case result := <-results:
			return result, nil
		case <-ctx.Done():
			return engine.RunResult{}, ctx.Err()
		case <-poll:
			if learner.TrialsDone() >= trials {
				deadline = nil
			}
		case <-deadline:
			if learner.TrialsDone() >= trials {
				deadline = nil
				continue
			}
			return engine.RunResult{}, errTrainingDeadline
		}
	}
}

func printRun(w io.Writer, run *runlog.Run) {
	fmt.Fprintf(w, "Policy: %s\nMap: %s\nOutcome: %s\n", run.Policy, run.Map, run.Outcome)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintf(w, "Run: %.1fcm Miss: %.1fcm\nDuration: %dms\n", run.DistanceTraveled, run.DistanceOffLine, run.DurationMs)
}

// printTable writes one row per sensor state, columns are actions
func printTable(w io.Writer, table [][]float64) {
	for state, row := range table {
		cells := make([]string, len(row))
		for a, v := range row {
			cells[a] = fmt.Sprintf("%8.3f", v)
		}
		fmt.Fprintf(w, "state %d (%s): %s\n", state, stateLabel(state), strings.Join(cells, " "))
	}
}

// stateLabel renders the sensor bits as e.g. "A.C" for A and C on black
func stateLabel(state int) string {
	label := []byte("...")
	for i, s := range engine.Sensors {
		if state&(1<<i) != 0 {
			label[i] = s.String()[0]
		}
	}
	return string(label)
}
