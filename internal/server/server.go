package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/harrow/internal/api"
	"github.com/victornm/harrow/internal/challenge"
	"github.com/victornm/harrow/internal/countdown"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/game"
	"github.com/victornm/harrow/internal/identity"
	"github.com/victornm/harrow/internal/platform"
	"github.com/victornm/harrow/internal/registry"
	"github.com/victornm/harrow/internal/router"
	"github.com/victornm/harrow/internal/solo"
	"github.com/victornm/harrow/internal/store"
	"github.com/victornm/harrow/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Platform struct {
		BaseURL string
		Token   string
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}
}

type Server struct {
	c Config

	eb  *event.Bus
	reg *registry.Registry

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		platform *platform.Client
	}

	service struct {
		store     *store.Store
		identity  *identity.Service
		challenge *challenge.Service
		game      *game.Service
		solo      *solo.Service
		countdown *countdown.Scheduler
		relay     *router.Router
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.reg = registry.New()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.infra.platform = platform.New(platform.Config{
		BaseURL: s.c.Platform.BaseURL,
		Token:   s.c.Platform.Token,
	})

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	s.service.store = store.New(store.Config{
		DB: s.infra.postgres,
	})

	s.service.identity = identity.NewService(identity.Config{
		Store:    s.service.store,
		Platform: s.infra.platform,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.service.identity.Load(ctx); err != nil {
		return err
	}

	s.service.countdown = countdown.New(countdown.Config{
		EventBus: s.eb,
	})

	s.service.challenge = challenge.NewService(challenge.Config{
		Registry:    s.reg,
		EventBus:    s.eb,
		Provisioner: s.infra.platform,
		Store:       s.service.store,
		Endpoints:   s.service.identity,
		Timer:       s.service.countdown,
	})

	s.service.game = game.NewService(game.Config{
		Registry: s.reg,
		EventBus: s.eb,
		Store:    s.service.store,
	})

	s.service.solo = solo.NewService(solo.Config{
		Registry: s.reg,
		EventBus: s.eb,
		Store:    s.service.store,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.relay = router.New(router.Config{
		Registry: s.reg,
		Resolver: s.service.identity,
		Scorer:   s.service.challenge,
		Relays:   s.service.identity,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Challenge:    s.service.challenge,
		Game:         s.service.game,
		Solo:         s.service.solo,
		Identity:     s.service.identity,
		Relay:        s.service.relay,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
