package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"QuorumGate/internal/api"
	"QuorumGate/internal/audit"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/metrics"
	"QuorumGate/internal/network"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
	"QuorumGate/internal/signer"
	"QuorumGate/internal/submit"
)

// Attestor is the running coordinator service.
type Attestor struct {
	cfg      *Config
	file     *roster.File
	roster   *roster.Roster
	network  *network.Node
	signers  []quorum.Signer
	store    *audit.Store
	sink     audit.Sink
	reader   audit.Reader
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	coord    *quorum.Coordinator
	pipeline *submit.Pipeline
	api      *api.Server
}

// NewAttestor creates and initializes the attestor.
func NewAttestor(cfg *Config) (*Attestor, error) {
	a := &Attestor{cfg: cfg}

	steps := []func() error{
		a.initRoster,
		a.initNetwork,
		a.initSigners,
		a.initAudit,
		a.initMetrics,
		a.initCoordinator,
		a.initPipeline,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.api = api.New(cfg.HTTPAddress, a.pipeline, a.coord, a.reader, a.registry)

	return a, nil
}

// initRoster loads and validates the roster file.
func (a *Attestor) initRoster() error {
	f, err := roster.LoadFile(a.cfg.RosterPath)
	if err != nil {
		return err
	}

	r, err := f.Build()
	if err != nil {
		return fmt.Errorf("build roster:\n%w", err)
	}

	a.file = f
	a.roster = r

	return nil
}

// initNetwork starts a QUIC endpoint when the roster has remote members.
func (a *Attestor) initNetwork() error {
	remote := false
	for _, m := range a.roster.Members() {
		if !m.Simulated() {
			remote = true
			break
		}
	}

	if !remote {
		return nil
	}

	priv, err := loadOrGenerateKey(a.cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}
	a.cfg.PrivateKey = priv

	node, err := network.NewNode(network.Config{
		PrivateKey: priv,
		ListenAddr: a.cfg.QUICAddress,
		Reconnect:  true,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	if err := node.Start(); err != nil {
		node.Close()
		return fmt.Errorf("start network:\n%w", err)
	}

	a.network = node

	return nil
}

// initSigners builds one signer per roster member.
func (a *Attestor) initSigners() error {
	var opts []signer.Option
	if a.cfg.MisbehaviorRate > 0 {
		opts = append(opts, signer.WithMisbehaviorRate(a.cfg.MisbehaviorRate))
	}

	signers, err := signer.FromRoster(a.roster, a.network, opts...)
	if err != nil {
		return fmt.Errorf("build signers:\n%w", err)
	}

	a.signers = signers

	return nil
}

// initAudit opens the persistent audit log, or an in-memory one without a data path.
func (a *Attestor) initAudit() error {
	if a.cfg.DataPath == "" {
		mem := audit.NewMemory()
		a.sink, a.reader = mem, mem
		return nil
	}

	if err := os.MkdirAll(a.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	store, err := audit.OpenStore(filepath.Join(a.cfg.DataPath, "audit"))
	if err != nil {
		return err
	}

	a.store = store
	a.sink, a.reader = store, store

	return nil
}

// initMetrics registers the session metrics and the runtime collectors.
func (a *Attestor) initMetrics() error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("init metrics:\n%w", err)
	}

	a.registry = reg
	a.metrics = m

	return nil
}

// initCoordinator builds the policy and timing from the roster file.
func (a *Attestor) initCoordinator() error {
	policy, err := a.policy()
	if err != nil {
		return err
	}

	cfg, err := a.timing()
	if err != nil {
		return err
	}

	coord, err := quorum.NewCoordinator(a.roster, a.signers, policy,
		quorum.WithConfig(cfg),
		quorum.WithSink(a.sink),
		quorum.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init coordinator:\n%w", err)
	}

	a.coord = coord

	return nil
}

// policy returns the file's f and t, or the 2f+1 default for the roster size.
func (a *Attestor) policy() (quorum.Policy, error) {
	n := a.roster.Len()
	def := quorum.DefaultPolicy(n)

	if a.file.F == nil && a.file.T == nil {
		return def, nil
	}

	f, t := def.F, def.T
	if a.file.F != nil {
		f = *a.file.F
	}
	if a.file.T != nil {
		t = *a.file.T
	}

	p, err := quorum.NewPolicy(n, f, t)
	if err != nil {
		return quorum.Policy{}, fmt.Errorf("quorum policy:\n%w", err)
	}

	return p, nil
}

// timing overlays the roster file durations on the defaults.
func (a *Attestor) timing() (quorum.Config, error) {
	t, err := a.file.Timing()
	if err != nil {
		return quorum.Config{}, fmt.Errorf("roster timing:\n%w", err)
	}

	cfg := quorum.DefaultConfig()
	cfg.MaxConcurrent = a.cfg.MaxConcurrent

	if a.file.MaxRetries != nil {
		if *a.file.MaxRetries < 0 {
			return quorum.Config{}, fmt.Errorf("maxRetries must not be negative")
		}
		cfg.MaxRetries = *a.file.MaxRetries
	}
	if t.RequestTimeout > 0 {
		cfg.RequestTimeout = t.RequestTimeout
	}
	if t.SessionTimeout > 0 {
		cfg.SessionTimeout = t.SessionTimeout
	}
	if t.Backoff > 0 {
		cfg.Backoff.Initial = t.Backoff
	}
	if t.MaxBackoff > 0 {
		cfg.Backoff.Max = t.MaxBackoff
	}

	return cfg, nil
}

// initPipeline picks the submitter: the relay when configured, else local verification.
func (a *Attestor) initPipeline() error {
	var sub submit.Submitter = submit.NewVerifier(a.roster)
	if a.cfg.RelayURL != "" {
		sub = submit.NewHTTPSubmitter(a.cfg.RelayURL, nil)
	}

	a.pipeline = submit.NewPipeline(a.coord, sub,
		submit.WithSubmitRetries(a.cfg.SubmitRetries, a.coord.Config().Backoff),
	)

	return nil
}

// Run starts the API and blocks until shutdown.
func (a *Attestor) Run() error {
	if err := a.api.Start(); err != nil {
		a.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	a.waitForShutdown()

	return nil
}

// waitForShutdown blocks until a termination signal arrives, then closes the attestor.
func (a *Attestor) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	a.Close()
}

// Close stops the API, waits for background session work and releases resources.
func (a *Attestor) Close() {
	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			logger.Warn("api shutdown", "error", err)
		}
	}

	if a.coord != nil {
		a.coord.Wait()
	}

	if a.network != nil {
		a.network.Close()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close audit store", "error", err)
		}
	}
}
