package mysqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Config struct {
	Addr     string
	User     string
	Password string
	DBName   string
}

func InitDB(ctx context.Context, c Config) (*sql.DB, error) {
	conf := mysql.NewConfig()
	conf.Addr = c.Addr
	conf.User = c.User
	conf.Passwd = c.Password
	conf.DBName = c.DBName
	conf.Net = "tcp"
	conf.Loc = time.UTC
	conf.ParseTime = true

	db, err := sql.Open("mysql", conf.FormatDSN())
	if err != nil {
		return nil, err
	}
	// See "Important settings" section.
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seckill_voucher (
	id BIGINT NOT NULL AUTO_INCREMENT,
	title VARCHAR(255) NOT NULL DEFAULT '',
	stock BIGINT NOT NULL,
	begin_time DATETIME(3) NOT NULL,
	end_time DATETIME(3) NOT NULL,
	created_at DATETIME(3) NOT NULL,
	updated_at DATETIME(3) NOT NULL,
	PRIMARY KEY (id),
	CONSTRAINT chk_voucher_stock CHECK (stock >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS voucher_order (
	id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	voucher_id BIGINT NOT NULL,
	created_at DATETIME(3) NOT NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uk_user_voucher (user_id, voucher_id)
)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
