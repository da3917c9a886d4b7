package queue

import "github.com/redis/go-redis/v9"

// KEYS: waiting, active
// ARGV: job key prefix, now ms
// Moves the oldest waiting job to active and stamps it. Returns the id or nil.
var reserveScript = redis.NewScript(`
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
    return false
end
local jobKey = ARGV[1] .. id
if redis.call("EXISTS", jobKey) == 0 then
    redis.call("LREM", KEYS[2], 1, id)
    return false
end
redis.call("HSET", jobKey, "state", "active", "processed_at", ARGV[2])
redis.call("HINCRBY", jobKey, "attempts", 1)
return id
`)

// KEYS: waiting, active, delayed, completed, job key
// ARGV: id, now ms, keep count, job key prefix
var completeScript = redis.NewScript(`
local id = ARGV[1]
redis.call("LREM", KEYS[2], 1, id)
redis.call("LREM", KEYS[1], 0, id)
redis.call("ZREM", KEYS[3], id)
redis.call("HSET", KEYS[5], "state", "completed", "finished_at", ARGV[2])
redis.call("ZADD", KEYS[4], ARGV[2], id)
local keep = tonumber(ARGV[3])
if keep > 0 then
    local excess = redis.call("ZCARD", KEYS[4]) - keep
    if excess > 0 then
        local old = redis.call("ZRANGE", KEYS[4], 0, excess - 1)
        for _, oid in ipairs(old) do
            redis.call("DEL", ARGV[4] .. oid)
            redis.call("ZREM", KEYS[4], oid)
        end
    end
end
return 1
`)

// KEYS: waiting, active, delayed, failed, job key
// ARGV: id, now ms, reason, retry (1|0), due ms
var failScript = redis.NewScript(`
local id = ARGV[1]
redis.call("LREM", KEYS[2], 1, id)
redis.call("LREM", KEYS[1], 0, id)
redis.call("ZREM", KEYS[3], id)
if ARGV[4] == "1" then
    redis.call("HSET", KEYS[5], "state", "delayed", "failed_reason", ARGV[3])
    redis.call("ZADD", KEYS[3], ARGV[5], id)
else
    redis.call("HSET", KEYS[5], "state", "failed", "failed_reason", ARGV[3], "finished_at", ARGV[2])
    redis.call("ZADD", KEYS[4], ARGV[2], id)
end
return 1
`)

// KEYS: delayed, waiting
// ARGV: job key prefix, now ms, batch size
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[1], id)
    redis.call("LPUSH", KEYS[2], id)
    redis.call("HSET", ARGV[1] .. id, "state", "waiting")
end
return #ids
`)

// KEYS: delayed, waiting, job key
// ARGV: id
// Only jobs no worker has reserved can be cancelled.
var cancelScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 0 then
    removed = redis.call("LREM", KEYS[2], 0, ARGV[1])
end
if removed > 0 then
    redis.call("DEL", KEYS[3])
    return 1
end
return 0
`)

// KEYS: active, waiting, failed, job key
// ARGV: id, now ms, processed-before ms
// Returns 0 if the job is not stalled, 1 if requeued, 2 if dead-lettered.
var recoverScript = redis.NewScript(`
local id = ARGV[1]
local processed = tonumber(redis.call("HGET", KEYS[4], "processed_at") or "0")
if processed > tonumber(ARGV[3]) then
    return 0
end
if redis.call("LREM", KEYS[1], 1, id) == 0 then
    return 0
end
if redis.call("EXISTS", KEYS[4]) == 0 then
    return 0
end
local attempts = tonumber(redis.call("HGET", KEYS[4], "attempts") or "0")
local maxAttempts = tonumber(redis.call("HGET", KEYS[4], "max_attempts") or "1")
if attempts >= maxAttempts then
    redis.call("HSET", KEYS[4], "state", "failed", "failed_reason", "job stalled more than allowable limit", "finished_at", ARGV[2])
    redis.call("ZADD", KEYS[3], ARGV[2], id)
    return 2
end
redis.call("HSET", KEYS[4], "state", "waiting")
redis.call("RPUSH", KEYS[2], id)
return 1
`)

// KEYS: set
// ARGV: job key prefix, cutoff ms
var trimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
for _, id in ipairs(ids) do
    redis.call("DEL", ARGV[1] .. id)
    redis.call("ZREM", KEYS[1], id)
end
return #ids
`)
