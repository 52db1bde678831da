package redisstore

import "github.com/redis/go-redis/v9"

// Every state transition runs as a single Lua script so that a job is never
// observed half-moved between lists.
//
// Job and lock keys are built inside the scripts from the queue's key base
// passed in ARGV. They are not declared in KEYS, which Redis Cluster allows
// only because every key of a queue shares the {prefix:queue} hash tag and
// therefore the slot of the declared list keys.

// addScript creates the job hash and pushes the id to wait or delayed.
// KEYS: job, wait, delayed. ARGV: id, runAtMs (0 = now), field/value pairs...
var addScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
if tonumber(ARGV[2]) > 0 then
  redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
else
  redis.call("LPUSH", KEYS[2], ARGV[1])
end
return 1
`)

// claimScript promotes due delayed jobs, then moves the oldest waiting job
// to active under a fresh lock.
// KEYS: wait, active, delayed. ARGV: nowMs, token, lockTTLMs, keyPrefix.
var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[3], id)
  redis.call("HSET", ARGV[4] .. "job:" .. id, "state", "waiting", "delayUntil", "")
  redis.call("LPUSH", KEYS[1], id)
end
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
  return false
end
local jobKey = ARGV[4] .. "job:" .. id
if redis.call("EXISTS", jobKey) == 0 then
  redis.call("LREM", KEYS[2], 0, id)
  return false
end
redis.call("SET", ARGV[4] .. "lock:" .. id, ARGV[2], "PX", ARGV[3])
redis.call("HSET", jobKey, "state", "active", "processedOn", ARGV[1], "delayUntil", "")
return redis.call("HGETALL", jobKey)
`)

// extendLockScript refreshes the lock TTL when the token still owns it.
// KEYS: lock. ARGV: token, ttlMs.
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// progressScript sets progress on an owned job.
// KEYS: lock, job. ARGV: token, progress.
var progressScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[2], "progress", ARGV[2])
return 1
`)

// completeScript moves an owned active job to completed and trims history.
// KEYS: job, active, completed, lock. ARGV: id, token, returnvalue, nowMs, keep, keyPrefix.
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[4]) ~= ARGV[2] then
  return -1
end
redis.call("DEL", KEYS[4])
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("HINCRBY", KEYS[1], "attemptsMade", 1)
redis.call("HSET", KEYS[1], "state", "completed", "returnvalue", ARGV[3], "finishedOn", ARGV[4])
redis.call("HDEL", KEYS[1], "failedReason", "failureKind")
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
local keep = tonumber(ARGV[5])
if keep >= 0 then
  local stale = redis.call("ZRANGE", KEYS[3], 0, -(keep + 1))
  for _, old in ipairs(stale) do
    redis.call("DEL", ARGV[6] .. "job:" .. old)
  end
  if #stale > 0 then
    redis.call("ZREMRANGEBYRANK", KEYS[3], 0, -(keep + 1))
  end
end
return 1
`)

// failScript records a failed attempt, then either schedules the retry or
// moves the job to failed and trims history.
// KEYS: job, active, failed, delayed, lock.
// ARGV: id, token, reason, kind, nowMs, retryAtMs (0 = terminal), keep, keyPrefix.
var failScript = redis.NewScript(`
if redis.call("GET", KEYS[5]) ~= ARGV[2] then
  return -1
end
redis.call("DEL", KEYS[5])
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("HINCRBY", KEYS[1], "attemptsMade", 1)
redis.call("HSET", KEYS[1], "failedReason", ARGV[3], "failureKind", ARGV[4])
local retryAt = tonumber(ARGV[6])
if retryAt > 0 then
  redis.call("HSET", KEYS[1], "state", "delayed", "delayUntil", ARGV[6])
  redis.call("ZADD", KEYS[4], retryAt, ARGV[1])
  return 1
end
redis.call("HSET", KEYS[1], "state", "failed", "finishedOn", ARGV[5])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
local keep = tonumber(ARGV[7])
if keep >= 0 then
  local stale = redis.call("ZRANGE", KEYS[3], 0, -(keep + 1))
  for _, old in ipairs(stale) do
    redis.call("DEL", ARGV[8] .. "job:" .. old)
  end
  if #stale > 0 then
    redis.call("ZREMRANGEBYRANK", KEYS[3], 0, -(keep + 1))
  end
end
return 2
`)

// recoverScript sweeps active jobs whose lock expired. Each one has its
// stalled counter bumped and goes back to the wait list head, or to failed
// once the counter passes maxStalled.
// KEYS: active, wait, failed. ARGV: keyPrefix, maxStalled, nowMs, keep, reason.
var recoverScript = redis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local maxStalled = tonumber(ARGV[2])
local requeued = {}
local failed = {}
for _, id in ipairs(ids) do
  if redis.call("EXISTS", ARGV[1] .. "lock:" .. id) == 0 then
    redis.call("LREM", KEYS[1], 0, id)
    local jobKey = ARGV[1] .. "job:" .. id
    if redis.call("EXISTS", jobKey) == 1 then
      local stalled = redis.call("HINCRBY", jobKey, "stalledCounter", 1)
      if stalled > maxStalled then
        redis.call("HSET", jobKey, "state", "failed", "failedReason", ARGV[5],
          "failureKind", "stalled", "finishedOn", ARGV[3])
        redis.call("ZADD", KEYS[3], ARGV[3], id)
        table.insert(failed, id)
      else
        redis.call("HSET", jobKey, "state", "waiting")
        redis.call("RPUSH", KEYS[2], id)
        table.insert(requeued, id)
      end
    end
  end
end
local keep = tonumber(ARGV[4])
if #failed > 0 and keep >= 0 then
  local stale = redis.call("ZRANGE", KEYS[3], 0, -(keep + 1))
  for _, old in ipairs(stale) do
    redis.call("DEL", ARGV[1] .. "job:" .. old)
  end
  if #stale > 0 then
    redis.call("ZREMRANGEBYRANK", KEYS[3], 0, -(keep + 1))
  end
end
return {requeued, failed}
`)
