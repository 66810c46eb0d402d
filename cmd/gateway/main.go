package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/config"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/credentials"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/observability/logger"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/payment"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/pos"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/server"
	"github.com/edoardok-cmd/BoomCard-sub001/internal/webhook"
	"go.uber.org/fx"
	glogger "gorm.io/gorm/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(func(cfg config.Config) (*gorm.DB, error) {
			return gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{
				Logger: glogger.Default.LogMode(glogger.Warn),
			})
		}),
		credentials.Module,
		payment.Module,
		pos.Module,
		webhook.Module,
		server.Module,
	)
	app.Run()
}
