package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/guestid/internal/db"
)

// windowScript checks and increments in one round trip so concurrent
// processes never over-admit. Rejections leave the counter untouched.
var windowScript = rueidis.NewLuaScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// IncrWindow implements db.WindowCounter.
func (s *Store) IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	res, err := windowScript.Exec(ctx, s.client,
		[]string{key},
		[]string{strconv.FormatInt(limit, 10), strconv.FormatInt(window.Milliseconds(), 10)},
	).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpIncrWindow, Err: err}
	}
	return res == 1, nil
}
