package cli

import (
	"context"
	"fmt"

	"github.com/anchel/voucher-seckill/config"
	"github.com/anchel/voucher-seckill/memstore"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/anchel/voucher-seckill/pgdb"
	"github.com/anchel/voucher-seckill/service"
	"github.com/charmbracelet/log"
)

type store interface {
	service.OrderStore
	Migrate(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, c *config.Config) (store, error) {
	switch c.StoreDriver {
	case "mysql":
		db, err := mysqldb.InitDB(ctx, mysqldb.Config{
			Addr:     c.MySQLHost,
			User:     c.MySQLUser,
			Password: c.MySQLPassword,
			DBName:   c.MySQLDB,
		})
		if err != nil {
			return nil, err
		}
		return mysqldb.NewStore(db), nil
	case "postgres":
		pool, err := pgdb.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pgdb.NewStore(pool), nil
	case "memory":
		log.Warn("using the in-memory store, orders are lost on exit")
		return memstore.New(nil), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
}
