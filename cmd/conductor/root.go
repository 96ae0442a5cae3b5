package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/conductor"
	audithook "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/retry"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/file"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/postgres"
	"github.com/xraph/conductor/store/redis"
	"github.com/xraph/conductor/store/sqlite"
	"github.com/xraph/conductor/throttle"
	"github.com/xraph/conductor/worktree"
)

// settings is the CLI configuration, bound from flags, CONDUCTOR_*
// environment variables and an optional config file.
type settings struct {
	StateDir          string        `mapstructure:"state-dir"`
	Store             string        `mapstructure:"store"`
	DSN               string        `mapstructure:"dsn"`
	MaxParallel       int           `mapstructure:"max-parallel"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout"`
	MaxAge            time.Duration `mapstructure:"max-age"`
	CleanupOnComplete bool          `mapstructure:"cleanup-on-complete"`
	KeepFailed        bool          `mapstructure:"keep-failed"`
	Worktrees         string        `mapstructure:"worktrees"`
	Repo              string        `mapstructure:"repo"`
	ClaudeBinary      string        `mapstructure:"claude-binary"`
	ClaudeConcurrency int           `mapstructure:"claude-concurrency"`
	LogLevel          string        `mapstructure:"log-level"`
	AuditLog          string        `mapstructure:"audit-log"`
	BreakerThreshold  int           `mapstructure:"breaker-threshold"`
	BreakerRecovery   time.Duration `mapstructure:"breaker-recovery"`
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitWith reports code; a nil err means the outcome was already printed.
func exitWith(code orchestrator.Code, err error) error {
	if code == orchestrator.CodeCompleted && err == nil {
		return nil
	}
	return &exitError{code: code.ExitCode(), err: err}
}

// app holds state shared by every subcommand.
type app struct {
	v      *viper.Viper
	cfg    settings
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	audit  *os.File
}

func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{v: viper.New(), out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(errOut, "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(errOut, "error:", err)
	return 1
}

func (a *app) rootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Crash-safe workflow orchestration",
		Long: `Conductor runs multi-step workflows of shell commands and AI assistant
invocations. Every step boundary is checkpointed, so interrupted or failed
sessions can be resumed where they stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd, configFile)
		},
	}

	def := conductor.DefaultConfig()
	f := cmd.PersistentFlags()
	f.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	f.String("state-dir", def.StateDir, "directory for checkpoints and worktrees")
	f.String("store", "file", "checkpoint backend: file, sqlite, postgres, redis or memory")
	f.String("dsn", "", "backend connection string (sqlite path, postgres or redis URL)")
	f.Int("max-parallel", def.MaxParallel, "maximum concurrent worktrees")
	f.Duration("idle-timeout", def.IdleTimeout, "reclaim unused worktrees after this long")
	f.Duration("max-age", def.MaxAge, "reclaim worktrees this long after creation")
	f.Bool("cleanup-on-complete", def.CleanupOnComplete, "reclaim a worktree as soon as its session completes")
	f.Bool("keep-failed", def.KeepFailed, "keep worktrees of failed sessions for inspection")
	f.String("worktrees", "dir", "worktree kind: git or dir")
	f.String("repo", ".", "repository for git worktrees")
	f.String("claude-binary", "", "path to the claude CLI")
	f.Int("claude-concurrency", 0, "maximum concurrent claude invocations (0 is unlimited)")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.String("audit-log", "", "append lifecycle audit events as JSON lines to this file")
	f.Int("breaker-threshold", retry.DefaultBreakerThreshold, "consecutive claude failures that open the circuit (0 disables it)")
	f.Duration("breaker-recovery", retry.DefaultBreakerRecovery, "how long an open circuit rejects claude attempts")

	cmd.AddCommand(
		a.runCmd(),
		a.resumeCmd(),
		a.sessionsCmd(),
		a.mapCmd(),
		a.dlqCmd(),
	)
	return cmd
}

// configure binds flags and environment into a.cfg and builds the logger.
func (a *app) configure(cmd *cobra.Command, configFile string) error {
	a.v.SetEnvPrefix("CONDUCTOR")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if configFile != "" {
		a.v.SetConfigFile(configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return nil
}

// openStore opens and migrates the configured backend.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store {
	case "file", "":
		st, err = file.New(filepath.Join(a.cfg.StateDir, "state"), file.WithLogger(a.logger))
	case "sqlite":
		dsn := a.cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(a.cfg.StateDir, "conductor.db")
		}
		st, err = sqlite.Open(dsn, sqlite.WithLogger(a.logger))
	case "postgres":
		st, err = postgres.New(ctx, a.cfg.DSN, postgres.WithLogger(a.logger))
	case "redis":
		opts, perr := goredis.ParseURL(a.cfg.DSN)
		if perr != nil {
			return nil, fmt.Errorf("redis dsn: %w", perr)
		}
		st = redis.New(goredis.NewClient(opts), redis.WithLogger(a.logger))
	case "memory":
		st = memory.New()
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// openEngine builds an engine over the configured store. Callers Stop it.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	cfg := conductor.DefaultConfig()
	cfg.StateDir = a.cfg.StateDir
	cfg.MaxParallel = a.cfg.MaxParallel
	cfg.IdleTimeout = a.cfg.IdleTimeout
	cfg.MaxAge = a.cfg.MaxAge
	cfg.CleanupOnComplete = a.cfg.CleanupOnComplete
	cfg.KeepFailed = a.cfg.KeepFailed

	c, err := conductor.New(
		conductor.WithConfig(cfg),
		conductor.WithStore(st),
		conductor.WithLogger(a.logger),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	claude := command.NewClaude()
	claude.Binary = a.cfg.ClaudeBinary
	opts := []engine.Option{engine.WithRunner(command.KindClaude, claude)}
	if a.cfg.BreakerThreshold > 0 {
		opts = append(opts, engine.WithBreaker(command.KindClaude,
			retry.NewBreaker(a.cfg.BreakerThreshold, a.cfg.BreakerRecovery)))
	}
	if a.cfg.ClaudeConcurrency > 0 {
		opts = append(opts, engine.WithThrottle(throttle.Config{
			Lane:           command.KindClaude,
			MaxConcurrency: a.cfg.ClaudeConcurrency,
		}))
	}
	switch a.cfg.Worktrees {
	case "git":
		opts = append(opts, engine.WithWorktreeManager(&worktree.Git{Repo: a.cfg.Repo}))
	case "dir", "":
	default:
		_ = st.Close()
		return nil, fmt.Errorf("unknown worktree kind %q", a.cfg.Worktrees)
	}

	if a.cfg.AuditLog != "" {
		f, err := os.OpenFile(a.cfg.AuditLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.audit = f
		opts = append(opts, engine.WithExtension(
			audithook.New(audithook.NewJSONLRecorder(f), audithook.WithLogger(a.logger)),
		))
	}

	eng, err := engine.Build(c, opts...)
	if err == nil {
		err = eng.Start(ctx)
	}
	if err != nil {
		_ = st.Close()
		a.closeAudit()
		return nil, err
	}
	return eng, nil
}

func (a *app) closeAudit() {
	if a.audit != nil {
		_ = a.audit.Close()
		a.audit = nil
	}
}

// stop shuts eng down within the configured grace period, even when ctx
// was cancelled by a signal.
func (a *app) stop(ctx context.Context, eng *engine.Engine) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conductor.DefaultConfig().ShutdownTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		a.logger.Warn("shutdown", slog.String("error", err.Error()))
	}
	a.closeAudit()
}
