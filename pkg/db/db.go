package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/seatbill/internal/config"
	"github.com/smallbiznis/seatbill/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool),
)

const connectAttempts = 5

type Params struct {
	fx.In

	Config    config.Config
	Dialector gorm.Dialector
	Log       *zap.Logger
}

func New(p Params) (*gorm.DB, error) {
	log := p.Log.Named("database")

	gormCfg := logger.DefaultGormLoggerConfig()
	if !p.Config.IsProduction() {
		gormCfg.Level = gormlogger.Info
	}

	var (
		conn *gorm.DB
		err  error
	)
	for i := 0; i < connectAttempts; i++ {
		conn, err = gorm.Open(p.Dialector, &gorm.Config{
			Logger: logger.NewGormLogger(gormCfg),
		})
		if err == nil {
			break
		}
		log.Warn("database not ready, retrying", zap.Int("retry", i+1), zap.Error(err))
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("register db tracing: %w", err)
	}
	if err := conn.Use(prometheus.New(prometheus.Config{
		DBName:          p.Config.DBName,
		RefreshInterval: 15,
	})); err != nil {
		return nil, fmt.Errorf("register db metrics: %w", err)
	}

	log.Info("database connection configured", zap.String("type", p.Config.DBType))
	return conn, nil
}

type connectionPoolParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    config.Config
	Log       *zap.Logger
}

func RegisterConnectionPool(p connectionPoolParams) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("resolve sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(p.Config.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(p.Config.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(p.Config.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(p.Config.DBConnMaxIdleTime) * time.Second)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Log.Info("closing database connection pool")
			return sqlDB.Close()
		},
	})
	return nil
}
