package capacity

import "github.com/redis/go-redis/v9"

// The held set for a call_id is the source of truth for the global counter:
// current = SCARD(key). Deriving the count from set membership instead of a
// separate counter variable rules out counter/set drift by construction —
// the two can never disagree because there is only one number.
//
// Every script below runs as a single atomic unit under Redis's
// single-threaded execution model, which is what spec §9 requires ("a CAS
// loop or a single stored procedure is acceptable, a read-then-write is
// not").

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local callID = ARGV[1]
local limit = tonumber(ARGV[2])

if redis.call("SISMEMBER", key, callID) == 1 then
	return {1, redis.call("SCARD", key), 1}
end

local current = redis.call("SCARD", key)
if current >= limit then
	return {0, current, 0}
end

redis.call("SADD", key, callID)
return {1, current + 1, 0}
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local callID = ARGV[1]

redis.call("SREM", key, callID)
local current = redis.call("SCARD", key)
if current < 0 then
	current = 0
end
return current
`)

var cleanupStuckScript = redis.NewScript(`
local key = KEYS[1]
local liveSet = {}
for i = 1, #ARGV do
	liveSet[ARGV[i]] = true
end

local held = redis.call("SMEMBERS", key)
local removed = 0
for _, callID in ipairs(held) do
	if not liveSet[callID] then
		redis.call("SREM", key, callID)
		removed = removed + 1
	end
end
return removed
`)
