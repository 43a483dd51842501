package tenantgate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/httpapi"
	"pkt.systems/tenantgate/internal/backend"
	"pkt.systems/tenantgate/internal/backendmock"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/internal/eventbus"
)

// Server composes the portal gateway and the mock backend.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTP    httpapi.Config
	Tenancy core.HostConfig
	Backend backend.Options
	Mock    MockConfig
}

// MockConfig configures the mock backend.
type MockConfig struct {
	Addr          string
	DirectoryFile string
	TokenTTL      time.Duration
	Seed          directory.Seed
}

// ServerDeps captures optional dependencies. A nil Backend is built from ServerConfig.Backend.
type ServerDeps struct {
	Backend   core.Backend
	EventSink core.EventSink
	Logger    pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableGateway bool
	enableMock    bool
}

// WithGateway enables the portal gateway.
func WithGateway() ServerOption {
	return func(o *serverOptions) { o.enableGateway = true }
}

// WithMockBackend enables the mock backend.
func WithMockBackend() ServerOption {
	return func(o *serverOptions) { o.enableMock = true }
}

// New constructs a composable tenantgate server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableGateway && !options.enableMock {
		return nil, errors.New("no services enabled")
	}

	var mockHandler http.Handler
	if options.enableMock {
		if cfg.Mock.Addr == "" {
			return nil, errors.New("mock backend address is required")
		}
		dir, err := directory.NewStoreWithLogger(cfg.Mock.DirectoryFile, cfg.Mock.Seed, deps.Logger)
		if err != nil {
			return nil, err
		}
		mock, err := backendmock.New(backendmock.Options{
			Directory: dir,
			TokenTTL:  cfg.Mock.TokenTTL,
			Logger:    deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		mockHandler = mock.Handler()
	}

	var gateway *httpapi.Server
	if options.enableGateway {
		client := deps.Backend
		if client == nil {
			built, err := backend.New(cfg.Backend)
			if err != nil {
				return nil, err
			}
			client = built
		}
		bus := eventbus.New(deps.Logger)
		gateway = httpapi.NewServer(cfg.HTTP, core.NewClassifier(cfg.Tenancy), client, bus, deps.EventSink)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		gateway: gateway,
		mock:    mockHandler,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	gateway *httpapi.Server
	mock    http.Handler
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(s.ctx)
	s.group = group
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"gateway", s.options.enableGateway,
		"mock_backend", s.options.enableMock,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"backend", s.cfg.Backend.BaseURL,
		"mock_addr", s.cfg.Mock.Addr,
	)
	if s.mock != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.Mock.Addr, s.mock); err != nil {
				log.Error("mock backend failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.gateway != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.HTTP.Addr, s.gateway.Handler()); err != nil {
				log.Error("gateway failed", "err", err)
				return err
			}
			return nil
		})
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	group := s.group
	ctx := s.ctx
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	if err := group.Wait(); err != nil {
		pslog.Ctx(ctx).Error("server stopped", "err", err)
		_ = s.Stop(context.Background())
		return err
	}
	return nil
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil || group == nil {
		log.Info("server stop completed")
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
