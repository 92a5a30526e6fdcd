package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/parley/internal/oauthbot"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/keyword"
	"github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/adapters/luis"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/oauth"
	"github.com/aretw0/parley/pkg/adapters/process"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/sqlite"
	"github.com/aretw0/parley/pkg/adapters/yamlfile"
	"github.com/aretw0/parley/pkg/config"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/registry"
	"golang.org/x/oauth2"
)

// Runtime is an engine together with the adapters it was assembled from.
type Runtime struct {
	Engine  *runtime.Engine
	Config  config.Config
	Logger  *slog.Logger
	Store   ports.StateStore
	Auth    ports.AuthConnection
	Metrics *observability.Metrics // nil unless enabled
	OAuth   *oauth.Provider        // nil unless a provider is configured

	closers []func() error
}

// Close releases the store connections.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}

// BuildOption tunes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	baseDir string
	sender  ports.Sender
	hooks   []domain.LifecycleHooks
}

// WithBaseDir resolves relative paths of the configuration against dir.
func WithBaseDir(dir string) BuildOption {
	return func(o *buildOptions) { o.baseDir = dir }
}

// WithSender delivers committed activities (e.g. to websocket streams).
func WithSender(s ports.Sender) BuildOption {
	return func(o *buildOptions) { o.sender = s }
}

// WithHooks adds lifecycle hooks next to the logging and metrics ones.
func WithHooks(h domain.LifecycleHooks) BuildOption {
	return func(o *buildOptions) { o.hooks = append(o.hooks, h) }
}

// Build assembles the engine described by cfg.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...BuildOption) (*Runtime, error) {
	o := buildOptions{baseDir: "."}
	for _, opt := range opts {
		opt(&o)
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	store, locker, closer, err := OpenStore(cfg, o.baseDir)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	recognizer, err := newRecognizer(cfg)
	if err != nil {
		return fail(err)
	}
	rt.Auth, rt.OAuth = newAuth(cfg, logger)

	templates, err := LoadTemplates(ctx, cfg, o.baseDir)
	if err != nil {
		return fail(err)
	}
	dialog, err := LoadDialog(ctx, cfg, o.baseDir)
	if err != nil {
		return fail(err)
	}
	commands, err := newRegistry(cfg, o.baseDir, logger)
	if err != nil {
		return fail(err)
	}

	hooks := []domain.LifecycleHooks{observability.LogHooks(logger)}
	if cfg.Metrics {
		rt.Metrics = observability.NewMetrics()
		hooks = append(hooks, rt.Metrics.Hooks())
	}
	hooks = append(hooks, o.hooks...)

	engineOpts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithRecognizer(recognizer),
		runtime.WithRecognizerTimeout(cfg.Recognizer.Timeout),
		runtime.WithAuthConnection(rt.Auth),
		runtime.WithCommands(commands),
		runtime.WithTemplates(templates...),
		runtime.WithLifecycleHooks(observability.Combine(hooks...)),
		runtime.WithPromptTimeout(cfg.PromptTimeout),
		runtime.WithMaxAttempts(cfg.MaxAttempts),
		runtime.WithDefaultLocale(cfg.Locale),
		runtime.WithLockTTL(cfg.LockTTL),
	}
	if locker != nil {
		engineOpts = append(engineOpts, runtime.WithLocker(locker))
	}
	if o.sender != nil {
		engineOpts = append(engineOpts, runtime.WithSender(o.sender))
	}

	rt.Engine, err = runtime.NewEngine(dialog, store, engineOpts...)
	if err != nil {
		return fail(fmt.Errorf("build engine: %w", err))
	}
	logger.Debug("engine ready",
		"dialog", dialog.ID, "store", cfg.Store.Driver, "recognizer", cfg.Recognizer.Kind,
		"oauth", rt.OAuth != nil, "templates", len(templates), "commands", len(commands.Names()))
	return rt, nil
}

// OpenStore opens the configured state store behind the security middlewares.
// The locker is only set for redis with locking enabled; closer may be nil.
func OpenStore(cfg config.Config, baseDir string) (ports.StateStore, ports.DistributedLocker, func() error, error) {
	var (
		store  ports.StateStore
		locker ports.DistributedLocker
		closer func() error
	)
	switch cfg.Store.Driver {
	case config.StoreMemory, "":
		store = memory.NewStore()
	case config.StoreFile:
		store = file.New(resolve(baseDir, cfg.Store.DSN))
	case config.StoreSQLite:
		s, err := sqlite.Open(resolve(baseDir, cfg.Store.DSN))
		if err != nil {
			return nil, nil, nil, err
		}
		store, closer = s, s.Close
	case config.StoreRedis:
		s := redis.New(cfg.Store.DSN, cfg.Store.Password, cfg.Store.DB,
			redis.WithPrefix(cfg.Store.Prefix), redis.WithTTL(cfg.Store.TTL))
		store, closer = s, s.Close
		if cfg.Store.Lock {
			locker = redis.NewLocker(s.Client(), cfg.Store.Prefix)
		}
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalid, cfg.Store.Driver)
	}

	mws, err := securityMiddlewares(cfg.Security)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, nil, nil, err
	}
	return middleware.Chain(store, mws...), locker, closer, nil
}

// securityMiddlewares masks before it encrypts, so masked values are what gets sealed.
func securityMiddlewares(sec config.SecurityConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(sec.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(sec.PIIPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	active, fallback, err := sec.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return mws, nil
}

func newRecognizer(cfg config.Config) (ports.Recognizer, error) {
	rc := cfg.Recognizer
	switch rc.Kind {
	case config.RecognizerLUIS:
		opts := []luis.Option{
			luis.WithThreshold(rc.Threshold),
			luis.WithHTTPClient(&http.Client{Timeout: rc.Timeout}),
		}
		if rc.Slot != "" {
			opts = append(opts, luis.WithSlot(rc.Slot))
		}
		for locale, appID := range rc.Apps {
			opts = append(opts, luis.WithApp(locale, appID))
		}
		return luis.New(rc.Endpoint, rc.AppID, rc.Key, opts...), nil
	case config.RecognizerKeyword, "":
		intents := rc.Intents
		if len(intents) == 0 {
			intents = oauthbot.Intents()
		}
		r, err := keyword.FromMap(intents)
		if err != nil {
			return nil, fmt.Errorf("keyword recognizer: %w", err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown recognizer %q", config.ErrInvalid, rc.Kind)
}

// newAuth returns the OAuth provider when one is configured, else an in-memory stand-in
// whose sign-ins never complete on their own.
func newAuth(cfg config.Config, logger *slog.Logger) (ports.AuthConnection, *oauth.Provider) {
	oc := cfg.OAuth
	if !oc.Enabled() {
		logger.Debug("no oauth provider configured, using in-memory auth", "connection", oc.Connection)
		return memory.NewAuth(""), nil
	}
	p := oauth.NewProvider(
		oauth.WithLogger(logger),
		oauth.WithPendingTTL(oc.PendingTTL),
		oauth.WithConnection(oc.Connection, &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			RedirectURL:  oc.RedirectURL,
			Scopes:       oc.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  oc.AuthURL,
				TokenURL: oc.TokenURL,
			},
		}),
	)
	return p, p
}

func newRegistry(cfg config.Config, baseDir string, logger *slog.Logger) (*registry.Registry, error) {
	reg := oauthbot.Commands(oauthbot.Options{Connection: cfg.OAuth.Connection})
	if cfg.CommandsPath == "" {
		return reg, nil
	}
	commands, err := process.LoadCommands(resolve(baseDir, cfg.CommandsPath))
	if err != nil {
		return nil, err
	}
	process.NewRunner(
		process.WithCommands(commands),
		process.WithBaseDir(baseDir),
		process.WithLogger(logger),
	).RegisterAll(reg)
	return reg, nil
}

// LoadTemplates returns the built-in templates overlaid with the configured ones.
// A directory is read as markdown documents, anything else as a YAML file.
func LoadTemplates(ctx context.Context, cfg config.Config, baseDir string) ([]domain.Template, error) {
	builtin, err := oauthbot.Templates()
	if err != nil {
		return nil, err
	}
	if cfg.TemplatesPath == "" {
		return builtin, nil
	}

	path := resolve(baseDir, cfg.TemplatesPath)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	var source ports.TemplateSource
	if info.IsDir() {
		s, err := loam.Open(path)
		if err != nil {
			return nil, err
		}
		source = s
	} else {
		source = yamlfile.NewTemplates(path)
	}
	own, err := source.Templates(ctx)
	if err != nil {
		return nil, err
	}
	return overlay(builtin, own), nil
}

// overlay replaces templates of base by name and appends the new ones.
func overlay(base, own []domain.Template) []domain.Template {
	index := make(map[string]int, len(base))
	out := append([]domain.Template(nil), base...)
	for i, t := range out {
		index[t.Name] = i
	}
	for _, t := range own {
		if i, ok := index[t.Name]; ok {
			out[i] = t
			continue
		}
		index[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}

// LoadDialog reads the configured YAML dialog, or builds the OAuth bot when none is set.
func LoadDialog(ctx context.Context, cfg config.Config, baseDir string) (domain.Dialog, error) {
	if cfg.DialogPath == "" {
		return oauthbot.Dialog(oauthbot.Options{
			Connection:  cfg.OAuth.Connection,
			MaxAttempts: cfg.MaxAttempts,
		})
	}
	return yamlfile.NewDialog(resolve(baseDir, cfg.DialogPath)).Dialog(ctx)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" || strings.HasPrefix(path, ":") {
		return path
	}
	return filepath.Join(baseDir, path)
}
