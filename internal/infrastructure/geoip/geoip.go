package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
)

var Module = fx.Module("geoip",
	fx.Provide(NewResolver),
)

// Resolver looks up coordinates for a remote address. Failures are never errors: the
// point comes back with Known=false and (0, 0).
type Resolver interface {
	Resolve(ctx context.Context, ip string) entity.GeoPoint
}

func NewResolver(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (Resolver, error) {
	if cfg.GeoIP.DatabasePath == "" {
		logger.Info("GeoIP database not configured, locations default to (0, 0)")
		return NoopResolver{}, nil
	}

	db, err := geoip2.Open(cfg.GeoIP.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})

	logger.Info("GeoIP database loaded", zap.String("path", cfg.GeoIP.DatabasePath))
	return &maxmindResolver{db: db, logger: logger}, nil
}

type maxmindResolver struct {
	db     *geoip2.Reader
	logger *zap.Logger
}

func (r *maxmindResolver) Resolve(ctx context.Context, ip string) entity.GeoPoint {
	addr := net.ParseIP(ip)
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return entity.GeoPoint{}
	}

	record, err := r.db.City(addr)
	if err != nil {
		r.logger.Debug("GeoIP lookup failed", zap.String("ip", ip), zap.Error(err))
		return entity.GeoPoint{}
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return entity.GeoPoint{}
	}
	return entity.GeoPoint{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		Known:     true,
	}
}

// NoopResolver never knows a location
type NoopResolver struct{}

func (NoopResolver) Resolve(ctx context.Context, ip string) entity.GeoPoint {
	return entity.GeoPoint{}
}

// StaticResolver returns fixed coordinates for every address
type StaticResolver struct {
	Point entity.GeoPoint
}

func (s StaticResolver) Resolve(ctx context.Context, ip string) entity.GeoPoint {
	return s.Point
}
