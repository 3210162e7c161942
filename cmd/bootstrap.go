package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/x-cli-team/x-cli-sub003/internal/agent"
	"github.com/x-cli-team/x-cli-sub003/internal/chat"
	"github.com/x-cli-team/x-cli-sub003/internal/config"
	"github.com/x-cli-team/x-cli-sub003/internal/confirm"
	"github.com/x-cli-team/x-cli-sub003/internal/llm"
	"github.com/x-cli-team/x-cli-sub003/internal/logging"
	"github.com/x-cli-team/x-cli-sub003/internal/session"
	"github.com/x-cli-team/x-cli-sub003/internal/tools"
)

func loadConfig(f *CommonFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.ConfigFile != "" {
		cfg, err = config.LoadFile(f.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	o, err := f.overrides()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o)
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	return cfg, nil
}

func openSessionStore(cfg *config.Config) (session.Store, error) {
	dir, err := cfg.SessionDir()
	if err != nil {
		return nil, err
	}
	return session.NewStore(session.Config{
		Enabled:    cfg.Sessions.Enabled,
		Dir:        dir,
		MaxAgeDays: cfg.Sessions.MaxAgeDays,
	})
}

// runtime is everything one chat or ask invocation needs: the controller
// over the agent, the confirmation gate, and the session it records into.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	model    string
	registry *tools.Registry
	gate     *confirm.Gate
	ctrl     *chat.Controller

	store    session.Store
	session  *session.Session
	recorder *session.Recorder

	closeLog func() error
}

func newRuntime(ctx context.Context, f *CommonFlags, mode session.Mode, resume string) (_ *runtime, err error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}

	logOpts, err := logging.FromConfig(cfg, f.Debug)
	if err != nil {
		return nil, err
	}
	closeLog, err := logging.Setup(logOpts)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, closeLog: closeLog, logger: slog.Default().With("mode", string(mode))}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	active, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	rt.model = active.Model

	provider, err := llm.NewProvider(cfg, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.registry, err = tools.NewRegistry(nil, tools.WithLogger(rt.logger))
	if err != nil {
		return nil, err
	}
	rt.gate, err = confirm.NewGate(nil, confirm.Options{
		RequireConfirmation: cfg.RequireConfirmation,
		ShellAllow:          cfg.ShellAllow,
		Logger:              rt.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid shell_allow pattern: %w", err)
	}

	transport := agent.New(provider, rt.registry, rt.gate, agent.Options{
		Model:           active.Model,
		MaxTokens:       cfg.MaxTokens,
		MaxTurns:        cfg.MaxTurns,
		RequestTimeout:  cfg.RequestTimeout,
		ToolConcurrency: cfg.ToolConcurrency,
		Logger:          rt.logger,
	})

	transcript := chat.NewTranscript(chat.WithTranscriptLogger(rt.logger))
	if err := rt.startSession(ctx, transcript, mode, resume, cfg.Provider); err != nil {
		return nil, err
	}

	opts := []chat.ControllerOption{
		chat.WithTranscript(transcript),
		chat.WithGate(rt.gate),
		chat.WithLogger(rt.logger),
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithControllerFlushInterval(cfg.FlushInterval),
	}
	if rt.recorder != nil {
		opts = append(opts, chat.WithRecorder(rt.recorder))
	}
	rt.ctrl = chat.NewController(transport, opts...)
	rt.logger.Debug("runtime ready", "provider", provider.Name(), "model", active.Model, "entries", transcript.Len())
	return rt, nil
}

// startSession opens (or reopens) the session log and index record. With
// sessions disabled the conversation is not persisted.
func (rt *runtime) startSession(ctx context.Context, transcript *chat.Transcript, mode session.Mode, resume, provider string) error {
	if !rt.cfg.Sessions.Enabled {
		if resume != "" {
			return errors.New("sessions are disabled; nothing to resume")
		}
		return nil
	}

	dir, err := rt.cfg.SessionDir()
	if err != nil {
		return err
	}
	store, err := openSessionStore(rt.cfg)
	if err != nil {
		return fmt.Errorf("open session index: %w", err)
	}
	rt.store = session.NewLoggingStore(store, rt.logger)

	if days := rt.cfg.Sessions.MaxAgeDays; days > 0 {
		if n, err := session.CleanupOldLogs(dir, time.Duration(days)*24*time.Hour); err != nil {
			rt.logger.Warn("session log cleanup failed", "error", err)
		} else if n > 0 {
			rt.logger.Debug("removed old session logs", "count", n)
		}
	}

	sess, err := rt.openSession(ctx, dir, transcript, mode, resume, provider)
	if err != nil {
		return err
	}
	log, err := session.OpenLog(dir, sess.ID)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	rt.session = sess
	rt.recorder = session.NewRecorder(log, rt.store, sess.ID, rt.logger)
	rt.recorder.Restored(transcript.Snapshot())
	return nil
}

func (rt *runtime) openSession(ctx context.Context, dir string, transcript *chat.Transcript, mode session.Mode, resume, provider string) (*session.Session, error) {
	if resume == "" {
		cwd, _ := os.Getwd()
		sess := &session.Session{
			Provider: provider,
			Model:    rt.model,
			Mode:     mode,
			CWD:      cwd,
		}
		if err := rt.store.Create(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return sess, nil
	}

	sess, err := session.ResolveID(ctx, rt.store, resume)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("no session matches %q", resume)
		}
		return nil, err
	}
	entries, err := session.ReadLog(session.LogPath(dir, sess.ID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	transcript.Restore(entries)
	if err := rt.store.UpdateStatus(ctx, sess.ID, session.StatusActive); err != nil {
		rt.logger.Debug("mark session active", "error", err)
	}
	rt.logger.Info("resumed session", "session", session.ShortID(sess.ID), "entries", transcript.Len())
	return sess, nil
}

// cycleDone records the outcome of the latest cycle as the session status.
func (rt *runtime) cycleDone(err error) {
	if rt.recorder == nil {
		return
	}
	rt.recorder.SetStatus(statusFor(err))
}

func statusFor(err error) session.Status {
	switch {
	case err == nil:
		return session.StatusComplete
	case errors.Is(err, context.Canceled):
		return session.StatusInterrupted
	default:
		return session.StatusError
	}
}

// Close tears down the controller, which closes the recorder, then the
// index and the diagnostic log.
func (rt *runtime) Close() error {
	var errs []error
	if rt.ctrl != nil {
		errs = append(errs, rt.ctrl.OnTeardown())
	} else if rt.gate != nil {
		rt.gate.Close()
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.closeLog != nil {
		errs = append(errs, rt.closeLog())
	}
	return errors.Join(errs...)
}
