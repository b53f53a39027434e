package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/anchel/voucher-seckill/lib/cacheclient"
	"github.com/anchel/voucher-seckill/lib/redislock"
	"github.com/anchel/voucher-seckill/model"
	"github.com/anchel/voucher-seckill/redisclient"
	"github.com/anchel/voucher-seckill/service"
	"github.com/spf13/cobra"
)

func NewVoucherCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Administer flash-sale vouchers",
	}
	cmd.AddCommand(newVoucherCreateCommand(opts))
	cmd.AddCommand(newVoucherGetCommand(opts))
	cmd.AddCommand(newVoucherWarmCommand(opts))
	return cmd
}

// withVouchers opens redis and the store for the duration of fn.
func withVouchers(ctx context.Context, opts *RootOptions, fn func(vs *service.VoucherService) error) error {
	cfg := opts.Config
	rdb, err := redisclient.InitRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer redisclient.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cache := cacheclient.New(rdb, redislock.NewLocker(rdb, nil), nil, nil, cacheclient.Options{
		NullTTL:      cfg.CacheNullTTL,
		LockTTL:      cfg.CacheLockTTL,
		RetryBackoff: cfg.CacheRetryBackoff,
	})
	return fn(service.NewVoucherService(st, rdb, cache, nil, nil, cfg.CacheTTL))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type voucherCreateOptions struct {
	title string
	stock int64
	begin string
	end   string
	warm  time.Duration
}

func newVoucherCreateCommand(opts *RootOptions) *cobra.Command {
	o := &voucherCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a voucher and seed its admission stock",
		Long: `Create a voucher and seed its admission stock.

Times are RFC3339; begin defaults to now.

Example:
  seckill voucher create --title "618 coupon" --stock 100 --end 2024-06-18T23:59:59Z
  seckill voucher create --title hot --stock 10 --end 2024-06-18T23:59:59Z --warm 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			begin := time.Now()
			if o.begin != "" {
				t, err := time.Parse(time.RFC3339, o.begin)
				if err != nil {
					return fmt.Errorf("invalid --begin: %w", err)
				}
				begin = t
			}
			end, err := time.Parse(time.RFC3339, o.end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			return withVouchers(cmd.Context(), opts, func(vs *service.VoucherService) error {
				id, err := vs.CreateVoucher(cmd.Context(), model.Voucher{
					Title:     o.title,
					Stock:     o.stock,
					BeginTime: begin,
					EndTime:   end,
				})
				if err != nil {
					return err
				}
				if o.warm > 0 {
					if err := vs.WarmVoucher(cmd.Context(), id, o.warm); err != nil {
						return fmt.Errorf("warm voucher %d: %w", id, err)
					}
				}
				return printJSON(cmd, map[string]int64{"id": id})
			})
		},
	}

	cmd.Flags().StringVar(&o.title, "title", "", "voucher title (required)")
	cmd.Flags().Int64Var(&o.stock, "stock", 0, "units on sale")
	cmd.Flags().StringVar(&o.begin, "begin", "", "sale start, RFC3339")
	cmd.Flags().StringVar(&o.end, "end", "", "sale end, RFC3339 (required)")
	cmd.Flags().DurationVar(&o.warm, "warm", 0, "also write a logically expiring hot entry for this long")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid voucher id %q", s)
	}
	return id, nil
}

func newVoucherGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Read a voucher through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withVouchers(cmd.Context(), opts, func(vs *service.VoucherService) error {
				v, err := vs.GetVoucher(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, v)
			})
		},
	}
}

func newVoucherWarmCommand(opts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "warm <id>",
		Short: "Write a logically expiring cache entry for a hot voucher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withVouchers(cmd.Context(), opts, func(vs *service.VoucherService) error {
				if err := vs.WarmVoucher(cmd.Context(), id, ttl); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "warmed voucher %d for %s\n", id, ttl)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Minute, "logical lifetime of the entry")
	return cmd
}
