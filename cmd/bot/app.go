package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"place-bot/internal/achievement"
	"place-bot/internal/catalog"
	"place-bot/internal/config"
	"place-bot/internal/health"
	"place-bot/internal/pending"
	"place-bot/internal/quiz"
	"place-bot/internal/reminder"
	"place-bot/internal/scheduler"
	"place-bot/internal/screen"
	"place-bot/internal/session"
	"place-bot/internal/storage"
	"place-bot/internal/telegram"
	"place-bot/internal/users"
)

const (
	jobReminders = "reminders"
	jobEviction  = "state-eviction"
)

// app holds the wired components of one process.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store storage.Store

	api      *tgbotapi.BotAPI
	sessions *session.Registry
	pending  *pending.Tracker
	quiz     *quiz.Engine
	achieve  *achievement.Evaluator
	users    *users.Service
	bot      *telegram.Bot
	sweeper  *reminder.Sweeper
	sched    *scheduler.Scheduler
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

// newApp opens storage and seeds the catalog. With withTelegram set it also connects
// to the Bot API and wires the conversation components.
func newApp(ctx context.Context, withTelegram bool) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(string(cfg.DBDriver), cfg.DBDSN, storage.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{cfg: cfg, log: log, store: store}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := catalog.Seed(ctx, store, cat, log); err != nil {
		a.Close()
		return nil, err
	}
	if !withTelegram {
		return a, nil
	}

	api, err := telegram.NewAPI(cfg.TelegramBotToken, cfg.TelegramDebug)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	a.api = api
	ch := telegram.NewChannel(api, cfg.PhotosDir, log)

	a.users = users.New(store, cfg.StateTTL)
	a.sessions = session.NewRegistry(ch, screen.HomeContent, cfg.StateTTL, log)
	screens := screen.NewController(ch, a.sessions, store, screen.Options{
		PageSize: cfg.PlacesPageSize,
		Profiles: a.users,
		Location: loc,
		Logger:   log,
	})
	a.achieve = achievement.NewEvaluator(store, screens.NotifyAchievement, cfg.StateTTL, log)
	a.pending = pending.NewTracker(cfg.StateTTL)
	a.quiz = quiz.NewEngine(store, a.achieve, cfg.StateTTL, log)
	a.sweeper = reminder.NewSweeper(store, ch, loc, log)

	a.bot = telegram.New(ch, telegram.Deps{
		Store:        store,
		Screens:      screens,
		Pending:      a.pending,
		Quiz:         a.quiz,
		Achievements: a.achieve,
		Users:        a.users,
		Location:     loc,
		Workers:      cfg.UpdateWorkers,
		Logger:       log,
	})
	return a, nil
}

// Serve runs the update loop, the scheduler and the ops endpoint until ctx is done.
func (a *app) Serve(ctx context.Context) error {
	loc, _ := a.cfg.Location()
	sched := scheduler.New(loc, a.log)
	a.sched = sched
	if err := sched.Add(jobReminders, a.cfg.ReminderSweepSpec, func(ctx context.Context) error {
		_, err := a.sweeper.Sweep(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Add(jobEviction, a.cfg.StateEvictionSpec, func(context.Context) error {
		a.evict()
		return nil
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	// reminders that fell due while the bot was down
	if err := sched.Trigger(jobReminders); err != nil {
		a.log.Warn("initial sweep skipped", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.bot.Start(gctx, a.api)
	})
	if a.cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           health.NewRouter(a.stats, a.log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("ops http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func (a *app) evict() {
	n := a.sessions.Evict() + a.pending.Evict() + a.quiz.Evict() + a.achieve.Evict() + a.users.Evict()
	if n > 0 {
		a.log.Info("🧹 idle state evicted", zap.Int("entries", n))
	}
}

func (a *app) stats() health.Stats {
	handled, failed := a.bot.Stats()
	return health.Stats{
		Handled:  handled,
		Failed:   failed,
		Sessions: a.sessions.Len(),
		Pending:  a.pending.Len(),
		Quizzes:  a.quiz.Len(),
		Users:    a.users.Len(),
		Jobs:     a.sched != nil && a.sched.IsRunning(),
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}
