package service

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	StreamOrders  = "stream.orders"
	NotifyChannel = "seckill:notify"

	voucherCachePrefix = "cache:voucher:"
	voucherHotPrefix   = "cache:voucher:hot:"
	voucherLockPrefix  = "voucher:"

	orderIDNamespace = "order"
)

func StockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

func OrderSetKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

func compensatedKey(orderID int64) string {
	return fmt.Sprintf("seckill:compensated:%d", orderID)
}

// Script results.
const (
	admitOK        = 0
	admitNoStock   = 1
	admitDuplicate = 2
)

// KEYS: [stock key, order set key, order stream]
// ARGV: [voucherId, userId, orderId, admittedAt (ms), trace carrier JSON]
var admitScript = redis.NewScript(`
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]

local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

if redis.call('sismember', orderKey, userId) == 1 then
	return 2
end

local stock = tonumber(redis.call('get', stockKey))
if stock == nil or stock <= 0 then
	return 1
end

redis.call('decr', stockKey)
redis.call('sadd', orderKey, userId)
redis.call('xadd', streamKey, '*',
	'userId', userId,
	'voucherId', voucherId,
	'id', orderId,
	'admittedAt', ARGV[4],
	'trace', ARGV[5])
return 0
`)

// Returns the stock unit of a discarded ticket once per order id. The user
// stays in the order set since durable storage already holds their order.
// KEYS: [stock key, order set key, compensation marker]
// ARGV: [userId, marker ttl seconds]
var compensateScript = redis.NewScript(`
if redis.call('set', KEYS[3], '1', 'NX', 'EX', ARGV[2]) then
	redis.call('incr', KEYS[1])
	redis.call('sadd', KEYS[2], ARGV[1])
	return 1
end
return 0
`)
