package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caseline/internal/alerts"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/events"
	"caseline/internal/migrate"
	"caseline/internal/notify"
	"caseline/internal/rules"
	"caseline/internal/snapshot"
	"caseline/internal/sweep"
)

// DefaultHomeID names the home when no config file exists.
const DefaultHomeID = "local"

// ResolveConfig loads an explicit config path, else the workspace
// caseline.yml, else the built-in defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(DefaultHomeID)
	}
	return cfg, nil
}

type Options struct {
	Workspace  string
	ConfigPath string
	Logger     *slog.Logger
}

// Services is the wired application: one database, one config and every
// component built on them.
type Services struct {
	DB        *sql.DB
	Config    *config.Config
	Logger    *slog.Logger
	Engine    engine.Engine
	Alerts    alerts.Manager
	Snapshot  snapshot.Assembler
	Scheduler *sweep.Scheduler
	Notifier  *notify.Dispatcher

	closers []func() error
}

// Open resolves config, opens and migrates the workspace database and
// wires the components.
func Open(opts Options) (*Services, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Services{DB: conn, Config: cfg, Logger: logger}
	s.closers = append(s.closers, conn.Close)

	s.Engine = engine.New(conn, cfg)
	s.Engine.Events.Logger = logger
	s.Engine.Compliance.Logger = logger
	s.Engine.Compliance.Events.Logger = logger
	s.Alerts = alerts.NewManager(conn, logger)
	s.Snapshot = snapshot.New(conn, cfg.LowStock())

	locker, closeLocker := buildLocker(cfg)
	if closeLocker != nil {
		s.closers = append(s.closers, closeLocker)
	}
	s.Scheduler = sweep.New(sweep.Options{
		Cases:    s.Engine.Repo,
		Contexts: s.Snapshot,
		Alerts:   s.Alerts,
		Events:   events.Writer{DB: conn, Logger: logger},
		Rules:    rules.FromConfig(cfg),
		Interval: cfg.SweepInterval(),
		Workers:  cfg.Sweep.Workers,
		Locker:   locker,
		Logger:   logger.With("component", "sweep"),
	})
	s.Notifier = notify.New(notify.Options{
		Source: s.Engine.Repo,
		HomeID: cfg.Home.ID,
		Config: cfg.Notify,
		Logger: logger.With("component", "notify"),
		Poll:   cfg.NotifyPoll(),
	})
	return s, nil
}

// buildLocker picks a redis lock when one is configured so several
// processes can share a database without overlapping sweeps.
func buildLocker(cfg *config.Config) (sweep.Locker, func() error) {
	lc := cfg.Sweep.Lock
	if lc.RedisAddr == "" {
		return &sweep.LocalLocker{}, nil
	}
	l := sweep.NewRedisLocker(lc.RedisAddr, lc.RedisPassword, lc.RedisDB, lc.Key, time.Duration(lc.TTLSeconds)*time.Second)
	return l, l.Close
}

func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
