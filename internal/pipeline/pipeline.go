// Package pipeline wires PtyHost, OutputBuffer, CommandTracker,
// Classifier, Sanitizer, ContextWindow, TriggerEngine, Orchestrator and
// ModelGateway into the running observation-and-analysis session that
// cmd/termpilot drives. Run's select loop owns CommandTracker and
// drives the rest of the chain for PTY-observed commands, but
// ApplyOverrides (config.Watch's hot-reload callback) and SubmitManual
// (the "??" stdin interception) are called from other goroutines, so
// TriggerEngine and Sanitizer guard their own mutable state internally
// rather than relying on single-goroutine ownership.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/halvorsen/termpilot/internal/command"
	"github.com/halvorsen/termpilot/internal/config"
	"github.com/halvorsen/termpilot/internal/contextwindow"
	"github.com/halvorsen/termpilot/internal/gateway"
	"github.com/halvorsen/termpilot/internal/history"
	"github.com/halvorsen/termpilot/internal/orchestrator"
	"github.com/halvorsen/termpilot/internal/ptyhost"
	"github.com/halvorsen/termpilot/internal/sanitizer"
	"github.com/halvorsen/termpilot/internal/shellinfo"
	"github.com/halvorsen/termpilot/internal/termbuf"
	"github.com/halvorsen/termpilot/internal/trigger"
)

// Analysis is one completed (or failed) orchestrator request, handed to
// the caller's OnAnalysis callback for rendering alongside the PTY
// passthrough.
type Analysis struct {
	TriggerName string
	TriggerType trigger.Type
	Command     string
	Result      orchestrator.Request
}

// Session owns every core component for one terminal session: the PTY
// and shell it supervises, and the observation pipeline watching it.
type Session struct {
	cfg   config.Config
	log   *slog.Logger
	shell shellinfo.Info

	host   *ptyhost.Host
	buf    *termbuf.Buffer
	tracker *command.Tracker
	san    *sanitizer.Sanitizer
	window *contextwindow.Window
	triggers *trigger.Engine
	orch   *orchestrator.Orchestrator
	hist   *history.Manager // nil disables history export

	onOutput   func([]byte)
	onAnalysis func(Analysis)

	cancel context.CancelFunc
}

// Options configures a new Session.
type Options struct {
	Config  config.Config
	Shell   shellinfo.Info
	Log     *slog.Logger
	History *history.Manager // optional

	// OnOutput is invoked with every raw PTY byte chunk, for the
	// caller to pass through to its own stdout.
	OnOutput func([]byte)
	// OnAnalysis is invoked whenever an orchestrator request reaches a
	// terminal state (completed or failed).
	OnAnalysis func(Analysis)
}

// New builds a Session and starts the supervised shell under a PTY.
// The caller is responsible for putting its controlling terminal into
// raw mode and restoring it on exit; Session only owns the PTY side.
func New(opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	san := sanitizer.New()
	for _, p := range opts.Config.Overrides.SanitizerPatterns {
		if err := san.AddPattern(p.Regex, p.Replacement); err != nil {
			log.Warn("skipping invalid sanitizer override pattern", "pattern", p.Regex, "error", err)
		}
	}

	triggers := trigger.New()
	applyTriggerOverrides(triggers, opts.Config.Overrides.Triggers)

	gw := gateway.New(opts.Config.OllamaHost, opts.Config.OllamaModel, opts.Config.OllamaTimeout, false)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.CacheTTL = opts.Config.CacheTTL
	orchCfg.MaxTokens = opts.Config.ResponseMaxTokens
	orchCfg.Temperature = opts.Config.Temperature
	orch := orchestrator.New(orchCfg, gw, log)

	host, err := ptyhost.Start(opts.Shell.Path, opts.Shell.Arg, uint16(opts.Config.TerminalCols), uint16(opts.Config.TerminalRows))
	if err != nil {
		orch.Stop()
		return nil, fmt.Errorf("pipeline: starting shell: %w", err)
	}

	s := &Session{
		cfg:        opts.Config,
		log:        log,
		shell:      opts.Shell,
		host:       host,
		buf:        termbuf.New(opts.Config.TerminalBufferSize),
		tracker:    command.New(mustGetwd(), opts.Shell.Name),
		san:        san,
		window:     contextwindow.New(opts.Config.MaxContextLength, 0),
		triggers:   triggers,
		orch:       orch,
		hist:       opts.History,
		onOutput:   opts.OnOutput,
		onAnalysis: opts.OnAnalysis,
	}

	for _, typ := range []trigger.Type{trigger.Error, trigger.Dangerous, trigger.Pattern, trigger.Manual} {
		orch.RegisterCallback(typ, s.handleOrchestratorEvent)
	}

	return s, nil
}

func mustGetwd() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "/"
}

// ApplyOverrides re-applies a freshly loaded Config's trigger cooldown/
// enablement and sanitizer pattern overrides, for config.Watch's
// hot-reload callback.
func (s *Session) ApplyOverrides(cfg config.Config) {
	applyTriggerOverrides(s.triggers, cfg.Overrides.Triggers)
	for _, p := range cfg.Overrides.SanitizerPatterns {
		if err := s.san.AddPattern(p.Regex, p.Replacement); err != nil {
			s.log.Warn("skipping invalid sanitizer override pattern on reload", "pattern", p.Regex, "error", err)
		}
	}
}

func applyTriggerOverrides(e *trigger.Engine, overrides map[string]config.TriggerOverride) {
	for name, o := range overrides {
		if o.Enabled != nil {
			e.SetEnabled(name, *o.Enabled)
		}
		if o.Cooldown != nil {
			e.SetCooldown(name, time.Duration(*o.Cooldown)*time.Second)
		}
	}
}

// Write forwards bytes to the shell, as if typed at the keyboard.
func (s *Session) Write(p []byte) error { return s.host.Write(p) }

// Resize applies a new PTY window size.
func (s *Session) Resize(cols, rows uint16) error { return s.host.Resize(cols, rows) }

// Interrupt, SendEOF and Clear forward the corresponding control byte.
func (s *Session) Interrupt() error { return s.host.Interrupt() }
func (s *Session) SendEOF() error   { return s.host.SendEOF() }
func (s *Session) Clear() error     { return s.host.Clear() }

// SubmitManual fires a synthetic manual trigger for a user-issued
// analysis request (e.g. a "?? how do I..." intercepted from stdin),
// using the current context window and session state.
func (s *Session) SubmitManual(text string) error {
	f := s.triggers.EvaluateManual(text, time.Now())
	return s.orch.Submit(f, command.Record{Command: text}, s.window.Relevant(s.cfg.MaxContextLength*50), s.window.Session())
}

// Run drives the pipeline goroutine: it reads raw PTY output chunks,
// feeds them through OutputBuffer and CommandTracker, sanitizes and
// scores completed records, evaluates triggers, and submits the
// highest-priority firing to the Orchestrator. InputLines should
// receive each line the user submits (post-Enter, pre-echo capture is
// the caller's concern); Run returns when the PTY closes or ctx is
// cancelled.
func (s *Session) Run(ctx context.Context, inputLines <-chan string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.host.Stop()
			return ctx.Err()

		case line, ok := <-inputLines:
			if !ok {
				inputLines = nil
				continue
			}
			s.tracker.FeedInputLine(line)

		case chunk, ok := <-s.host.Output():
			if !ok {
				continue
			}
			if s.onOutput != nil {
				s.onOutput(chunk)
			}
			s.consumeChunk(chunk)

		case ev := <-s.host.Closed():
			s.tracker.FeedExit(ev.ExitCode)
			s.drainRecords()
			return ev.Err

		case rec := <-s.tracker.Records():
			s.publishRecord(rec)
		}
	}
}

func (s *Session) consumeChunk(chunk []byte) {
	before := s.buf.TotalLines()
	s.buf.Append(chunk)
	after := s.buf.TotalLines()
	if after == before {
		return
	}
	for _, line := range s.buf.LastNPlain(after - before) {
		s.tracker.FeedOutputLine(line)
	}
}

// drainRecords flushes any CommandRecord the tracker already emitted
// (buffered on its channel) before Run returns.
func (s *Session) drainRecords() {
	for {
		select {
		case rec := <-s.tracker.Records():
			s.publishRecord(rec)
		default:
			return
		}
	}
}

func (s *Session) publishRecord(rec command.Record) {
	rec.Command = s.san.FilterText(rec.Command)
	rec.Stdout = s.san.FilterOutput(rec.Command, rec.Stdout)
	rec.Stderr = s.san.FilterOutput(rec.Command, rec.Stderr)

	s.window.Add(rec)
	s.window.UpdateSession(s.tracker.Session())

	if s.hist != nil {
		if err := s.hist.SaveCommand(rec); err != nil {
			s.log.Warn("history export failed", "error", err)
		}
	}

	fired := s.triggers.Evaluate(rec, time.Now())
	if len(fired) == 0 {
		return
	}

	recent := s.window.Relevant(s.cfg.MaxContextLength * 50)
	if err := s.orch.Submit(fired[0], rec, recent, s.window.Session()); err != nil {
		s.log.Debug("analysis request dropped", "error", err, "trigger", fired[0].Rule.Name)
	}
}

func (s *Session) handleOrchestratorEvent(ev orchestrator.Event) {
	if ev.Request.State != orchestrator.Completed && ev.Request.State != orchestrator.Failed {
		return
	}
	if s.onAnalysis != nil {
		a := Analysis{
			TriggerName: ev.Request.Firing.Rule.Name,
			TriggerType: ev.Request.Firing.Rule.TriggerType,
			Result:      ev.Request,
		}
		if ev.Request.Firing.Command != nil {
			a.Command = ev.Request.Firing.Command.Command
		}
		s.onAnalysis(a)
	}
	if s.hist != nil && ev.Request.Firing.Command != nil {
		state := string(ev.Request.State)
		if err := s.hist.SaveAnalysis(ev.Request.ID, ev.Request.Firing.Command.ID, ev.Request.Firing.Rule.Name, ev.Request.Prompt, ev.Request.Result.Summary, state); err != nil {
			s.log.Warn("analysis history export failed", "error", err)
		}
	}
}

// Stats summarizes the pipeline's current state for diagnostics.
type Stats struct {
	Window      contextwindow.Statistics
	Triggers    trigger.Statistics
	Orchestrator orchestrator.Metrics
	Sanitizer   sanitizer.Statistics
}

// Stats snapshots every component's diagnostic counters.
func (s *Session) Stats() Stats {
	return Stats{
		Window:       s.window.Statistics(),
		Triggers:     s.triggers.Stats(),
		Orchestrator: s.orch.Metrics(),
		Sanitizer:    s.san.Stats(),
	}
}

// Shutdown stops the orchestrator's background loops and the
// supervised shell (SIGTERM, 2s grace, SIGKILL).
func (s *Session) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.host.Stop()
	s.orch.Stop()
}
