package redis

import "github.com/redis/go-redis/v9"

const (
	// swapValueScript sets (or deletes, when ARGV[1] is '0') a value and
	// returns the previous one
	swapValueScript = `
local value_key = KEYS[1]       -- tabtime:value:{key}

local op = ARGV[1]
local new_value = ARGV[2]

local old = redis.call('GET', value_key)
if op == '1' then
  redis.call('SET', value_key, new_value)
else
  redis.call('DEL', value_key)
end

return old
`

	// incrementDailyUsageScript atomically increments or creates daily usage,
	// optionally writing the tracker checkpoint in the same step
	incrementDailyUsageScript = `
local usage_key = KEYS[1]       -- tabtime:usage:daily:{date}:{site}
local index_key = KEYS[2]       -- tabtime:usage:daily:index:{date}
local dates_key = KEYS[3]       -- tabtime:usage:dates
local session_key = KEYS[4]     -- tabtime:tracker:session (optional)

local date = ARGV[1]
local site_key = ARGV[2]
local seconds = tonumber(ARGV[3])
local checkpoint = ARGV[4]

if seconds < 0 then
  return redis.error_reply('negative usage increment')
end

redis.call('HSETNX', usage_key, 'date', date)
redis.call('HSETNX', usage_key, 'site_key', site_key)
redis.call('HINCRBY', usage_key, 'seconds', seconds)

redis.call('SADD', index_key, site_key)
redis.call('SADD', dates_key, date)

if session_key then
  redis.call('SET', session_key, checkpoint)
end

return 'OK'
`
)

var (
	swapValue           = redis.NewScript(swapValueScript)
	incrementDailyUsage = redis.NewScript(incrementDailyUsageScript)
)
