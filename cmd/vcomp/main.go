package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gridsignal/voltage-compensator/cases"
	"github.com/gridsignal/voltage-compensator/core"
	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/internal/config"
	"github.com/gridsignal/voltage-compensator/internal/logging"
	"github.com/gridsignal/voltage-compensator/internal/observability"
	"github.com/gridsignal/voltage-compensator/report"
	"github.com/gridsignal/voltage-compensator/solver"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML run configuration")
	caseName := flag.String("case", "", "embedded case name or JSON case file (default case14)")
	mode := flag.String("mode", "global_increase", "stress mode: interactive, auto_weakest, auto_random, global_increase, skip")
	strategyName := flag.String("strategy", "targeted", "compensation strategy: targeted, global, optimal")
	busID := flag.Int("bus", 0, "target bus for interactive stress (prompted when omitted)")
	multiplier := flag.Float64("multiplier", 0, "load multiplier (mode default when 0)")
	addP := flag.Float64("add-p", 0, "additional active load in MW (mode default when 0)")
	addQ := flag.Float64("add-q", 0, "additional reactive load in MVar (mode default when 0)")
	seed := flag.Int64("seed", 0, "random seed for auto_random (time-seeded when 0)")
	jsonOut := flag.Bool("json", false, "emit the run as JSON instead of text")
	metricsListen := flag.String("metrics-listen", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["case"] {
		cfg.Case = *caseName
	}
	if set["metrics-listen"] {
		cfg.MetricsListen = *metricsListen
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	ctx, log := logging.WithRunLogger(context.Background(), log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.String("error", err.Error()))
	} else {
		defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)
	}

	collector, err := observability.NewCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.MetricsListen != "" {
		serveMetrics(cfg.MetricsListen, collector, log)
	}

	strategy, err := core.ParseStrategy(*strategyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	net := loadCase(ctx, log, cfg.Case)

	fd := &solver.FastDecoupled{
		MaxSweeps:       cfg.Solver.MaxSweeps,
		TolerancePU:     cfg.Solver.TolerancePU,
		CollapseFloorPU: cfg.Solver.CollapseFloorPU,
	}
	guard, err := core.NewGuard(fd, core.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		LoadBackoff: cfg.Retry.LoadBackoff,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	guard.Log = log
	guard.Metrics = collector
	guard.Stats = core.NewSessionStats()

	analyzer := &core.Analyzer{
		Guard:       guard,
		ThresholdPU: cfg.ThresholdPU,
		Log:         log,
	}

	injector := &core.Injector{Analyzer: analyzer, Log: log}
	if *seed != 0 {
		injector.Rand = rand.New(rand.NewSource(*seed))
	}

	baseline, err := analyzer.Analyze(ctx, net)
	if err != nil {
		log.Error(ctx, "baseline analysis failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if !*jsonOut {
		if err := report.WriteHealth(os.Stdout, baseline, cfg.ThresholdPU); err != nil {
			log.Error(ctx, "report failed", logging.String("error", err.Error()))
			os.Exit(1)
		}
	}

	req := core.StressRequest{
		Mode:       core.StressMode(*mode),
		BusID:      *busID,
		Multiplier: *multiplier,
		AddPMW:     *addP,
		AddQMVAr:   *addQ,
	}
	switch req.Mode {
	case core.ModeInteractive:
		if !*jsonOut {
			promptInteractive(net, &req)
		}
		// Unset fields take the stock interactive stress.
		if req.Multiplier == 0 {
			req.Multiplier = core.DefaultInteractiveMultiplier
		}
		if req.AddPMW == 0 {
			req.AddPMW = core.DefaultInteractiveAddPMW
		}
		if req.AddQMVAr == 0 {
			req.AddQMVAr = core.DefaultInteractiveAddQMVAr
		}
	case core.ModeGlobalIncrease:
		if req.Multiplier == 0 {
			req.Multiplier = core.DefaultGlobalMultiplier
		}
	}

	scenario, err := injector.Apply(ctx, net, req)
	if err != nil {
		log.Error(ctx, "stress scenario failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if !*jsonOut {
		if err := report.WriteScenario(os.Stdout, scenario); err != nil {
			log.Error(ctx, "report failed", logging.String("error", err.Error()))
			os.Exit(1)
		}
	}

	engine, err := core.NewEngine(guard, analyzer, core.Params{
		ThresholdPU:           cfg.ThresholdPU,
		StepQMVAr:             cfg.Compensation.StepQMVAr,
		MaxQMVAr:              cfg.Compensation.MaxQMVAr,
		ImprovementEpsPU:      cfg.Compensation.ImprovementEpsPU,
		DeferEpsPU:            cfg.Compensation.DeferEpsPU,
		OptimalPerBusMaxQMVAr: cfg.Compensation.OptimalPerBusMaxQMVAr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	engine.Log = log
	engine.Metrics = collector
	engine.Distance = fd

	result, err := engine.Apply(ctx, net, strategy)
	if err != nil {
		log.Error(ctx, "compensation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	if *jsonOut {
		if err := report.WriteJSON(os.Stdout, scenario, result); err != nil {
			log.Error(ctx, "report failed", logging.String("error", err.Error()))
			os.Exit(1)
		}
	} else if err := report.WriteResult(os.Stdout, result, cfg.ThresholdPU); err != nil {
		log.Error(ctx, "report failed", logging.String("error", err.Error()))
		os.Exit(1)
	}

	if len(result.FinalViolations) > 0 {
		os.Exit(2)
	}
}

// loadCase resolves a case name or file path, falling back to the
// default case when the requested one is unknown.
func loadCase(ctx context.Context, log logging.Logger, name string) *grid.Network {
	net, err := cases.Load(name)
	if err == nil {
		log.Info(ctx, "loaded network case",
			logging.String("case", net.Name()),
			logging.Int("buses", net.NumBuses()),
		)
		return net
	}

	log.Warn(ctx, "unknown case, falling back to default",
		logging.String("case", name),
		logging.String("default", cases.DefaultCase),
		logging.String("error", err.Error()),
	)
	net, err = cases.Load(cases.DefaultCase)
	if err != nil {
		log.Error(ctx, "failed to load default case", logging.String("error", err.Error()))
		os.Exit(1)
	}
	return net
}

// promptInteractive fills the stress request from stdin. Empty input
// keeps the stock values.
func promptInteractive(net *grid.Network, req *core.StressRequest) {
	reader := bufio.NewReader(os.Stdin)

	if req.BusID == 0 {
		ids := net.LoadedBusIDs()
		fmt.Printf("Loaded buses: %v\n", ids)
		fallback := 0
		if len(ids) > 0 {
			fallback = ids[len(ids)-1]
		}
		req.BusID = promptInt(reader, "Bus to stress", fallback)
	}
	if req.Multiplier == 0 {
		req.Multiplier = promptFloat(reader, "Load multiplier", core.DefaultInteractiveMultiplier)
	}
	if req.AddPMW == 0 {
		req.AddPMW = promptFloat(reader, "Additional P (MW)", core.DefaultInteractiveAddPMW)
	}
	if req.AddQMVAr == 0 {
		req.AddQMVAr = promptFloat(reader, "Additional Q (MVar)", core.DefaultInteractiveAddQMVAr)
	}
}

func promptInt(r *bufio.Reader, label string, fallback int) int {
	fmt.Printf("%s [%d]: ", label, fallback)
	line, err := r.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("invalid input %q, using %d\n", line, fallback)
		return fallback
	}
	return v
}

func promptFloat(r *bufio.Reader, label string, fallback float64) float64 {
	fmt.Printf("%s [%g]: ", label, fallback)
	line, err := r.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid input %q, using %g\n", line, fallback)
		return fallback
	}
	return v
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
