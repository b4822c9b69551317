// Package app wires configuration, infrastructure and transports for the
// service binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"go-user-directory/internal/core/auth"
	"go-user-directory/internal/core/cache"
	"go-user-directory/internal/core/config"
	"go-user-directory/internal/core/database"
	"go-user-directory/internal/core/logger"
	"go-user-directory/internal/core/password"
	"go-user-directory/internal/core/server"
	"go-user-directory/internal/repo"
	"go-user-directory/internal/service"
	"go-user-directory/internal/transport/bus"
	mdw "go-user-directory/internal/transport/http/middleware"
	"go-user-directory/internal/transport/http/router"
	"go-user-directory/internal/transport/rpc"
)

const shutdownGrace = 10 * time.Second

// Infra is everything both services share: config, logger, store and Redis.
type Infra struct {
	Name string
	Cfg  *config.Config
	Log  *zap.Logger
	DB   *gorm.DB
	RDB  *redis.Client

	closers []func()
}

// Boot loads .env and the config file, then opens the store and Redis. Schema
// migration runs when db.autoMigrate is set.
func Boot(ctx context.Context, name string) (*Infra, error) {
	_ = godotenv.Load()
	cfg, err := config.Read("")
	if err != nil {
		return nil, err
	}

	l, syncLog := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		JSON:        cfg.Log.JSON,
		AddCaller:   true,
		Development: !cfg.Log.JSON,
		Service:     name,
		Rotate:      logger.FileRotate(cfg.Log.Rotate),
	})
	inf := &Infra{Name: name, Cfg: cfg, Log: l, closers: []func(){syncLog}}
	inf.closers = append(inf.closers, logger.RedirectStdLog(l, zapcore.InfoLevel))

	db, err := database.NewGorm(ctx, database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
	}, l)
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	inf.DB = db
	inf.closers = append(inf.closers, func() { _ = database.Close(db) })
	l.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			inf.Close()
			return nil, fmt.Errorf("automigrate: %w", err)
		}
		l.Info("automigrate done")
	}

	rdb, err := cache.Connect(ctx, cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		inf.Close()
		return nil, err
	}
	inf.RDB = rdb
	inf.closers = append(inf.closers, func() { _ = rdb.Close() })
	l.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return inf, nil
}

// Close releases resources in reverse order of acquisition.
func (i *Infra) Close() {
	for k := len(i.closers) - 1; k >= 0; k-- {
		i.closers[k]()
	}
	i.closers = nil
}

func (i *Infra) Users() *repo.UserRepo { return repo.NewUserRepo(i.DB, i.Cfg.QueryTimeout()) }

func (i *Infra) Passwords() *password.Manager {
	pw := password.New(i.Cfg.Password.Cost, i.Cfg.Password.Workers)
	if pw.Cost() != i.Cfg.Password.Cost {
		i.Log.Warn("bcrypt cost out of range, using default", zap.Int("configured", i.Cfg.Password.Cost), zap.Int("cost", pw.Cost()))
	} else {
		i.Log.Info("bcrypt ready", zap.Int("cost", pw.Cost()))
	}
	return pw
}

func (i *Infra) Tokens() *auth.JWTer {
	return &auth.JWTer{Secret: []byte(i.Cfg.JWT.Secret), Issuer: i.Cfg.JWT.Issuer, TTL: i.Cfg.TokenTTL()}
}

func (i *Infra) Cache() *cache.Cache {
	return cache.New(i.RDB, i.Cfg.Cache.Prefix, i.Cfg.CacheTTL())
}

// Auth builds the authentication service; both binaries need it, the users
// service only to resolve gateway callers.
func (i *Infra) Auth(users *repo.UserRepo, pw *password.Manager) *service.AuthService {
	return service.NewAuthService(users, pw, i.Tokens(), i.Log.Named("auth"))
}

// Serve runs the HTTP gateway and, when enabled, the bus server until ctx is
// done or one of them fails.
func (i *Infra) Serve(ctx context.Context, rpcs *rpc.Router, ids mdw.IdentityResolver, health string) error {
	h := i.Cfg.App.HTTP
	o := router.DefaultOptions()
	o.HealthMessage = health
	o.Server = server.Options{AllowOrigins: h.AllowOrigins}
	if i.Cfg.App.Env == "prod" {
		o.Server.Mode = "release"
	}
	// gin's debug route table and its own error prints go through zap
	gin.DefaultWriter = logger.ToWriter(i.Log.Named("gin"), zapcore.DebugLevel)
	gin.DefaultErrorWriter = logger.ToWriter(i.Log.Named("gin"), zapcore.ErrorLevel)
	srv := server.BuildServer(
		server.Addr(h.Host, h.Port),
		router.NewGateway(i.Log, rpcs, ids, o),
		time.Duration(h.ReadTimeoutSec)*time.Second,
		time.Duration(h.WriteTimeoutSec)*time.Second,
		time.Duration(h.IdleTimeoutSec)*time.Second,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, srv, i.Log, shutdownGrace) })
	if i.Cfg.Bus.Enabled {
		b := bus.NewServer(i.RDB, rpcs, i.Log.Named("bus"), i.Cfg.Bus.Workers)
		g.Go(func() error { return b.Run(gctx) })
	}
	i.Log.Info(i.Name+" service started", zap.Strings("patterns", rpcs.Patterns()), zap.Bool("bus", i.Cfg.Bus.Enabled))
	err := g.Wait()
	i.Log.Info(i.Name + " service stopped")
	return err
}
