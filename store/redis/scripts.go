package redis

import goredis "github.com/redis/go-redis/v9"

// drrScript runs one DRR visit of a single environment.
//
// KEYS: master, deficits, env batch counts, then (queue, items, meta) per
// batch in master queue order.
// ARGV: envID, quantum, max items, max deficit, then (member, batchID) per
// batch.
//
// Returns {envHasMore, {batchID, index, item, remaining, meta, ...}}. Meta
// is sent with the first item of each batch only.
var drrScript = goredis.NewScript(`
local envId = ARGV[1]
local quantum = tonumber(ARGV[2])
local maxItems = tonumber(ARGV[3])
local maxDeficit = tonumber(ARGV[4])

local deficit = redis.call('HINCRBY', KEYS[2], envId, quantum)
if maxDeficit > 0 and deficit > maxDeficit then
  deficit = maxDeficit
end

local out = {}
local popped = 0
local batches = (#KEYS - 3) / 3

for i = 1, batches do
  if deficit <= 0 or popped >= maxItems then
    break
  end
  local queueKey = KEYS[3 + (i - 1) * 3 + 1]
  local itemsKey = KEYS[3 + (i - 1) * 3 + 2]
  local metaKey = KEYS[3 + (i - 1) * 3 + 3]
  local member = ARGV[4 + (i - 1) * 2 + 1]
  local batchId = ARGV[4 + (i - 1) * 2 + 2]

  local meta = nil
  while deficit > 0 and popped < maxItems do
    local entry = redis.call('ZPOPMIN', queueKey)
    if #entry == 0 then
      break
    end
    local idx = entry[1]
    local item = redis.call('HGET', itemsKey, idx)
    deficit = deficit - 1
    popped = popped + 1

    local metaOut = ''
    if meta == nil then
      meta = redis.call('GET', metaKey) or ''
      metaOut = meta
    end
    table.insert(out, batchId)
    table.insert(out, idx)
    table.insert(out, item or '')
    table.insert(out, redis.call('ZCARD', queueKey))
    table.insert(out, metaOut)
  end

  if redis.call('ZCARD', queueKey) == 0 then
    if redis.call('ZREM', KEYS[1], member) == 1 then
      redis.call('HINCRBY', KEYS[3], envId, -1)
    end
  end
end

local pending = tonumber(redis.call('HGET', KEYS[3], envId) or '0')
if pending > 0 then
  redis.call('HSET', KEYS[2], envId, deficit)
  return {1, out}
end
redis.call('HDEL', KEYS[3], envId)
redis.call('HDEL', KEYS[2], envId)
return {0, out}
`)

// recordScript appends a result and increments the processed counter,
// refusing to resurrect a cleaned up batch. An item index that was already
// recorded returns the count its first record produced and changes nothing.
//
// KEYS: meta, results list, processed counter, recorded indices.
// ARGV: encoded result, item index.
var recordScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local prev = redis.call('HGET', KEYS[4], ARGV[2])
if prev then
  return tonumber(prev)
end
redis.call('RPUSH', KEYS[2], ARGV[1])
local n = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[4], ARGV[2], n)
return n
`)

// cleanupScript deletes a batch and its master queue membership.
//
// KEYS: master, env batch counts, deficits, then the per-batch keys.
// ARGV: member, envID.
var cleanupScript = goredis.NewScript(`
for i = 4, #KEYS do
  redis.call('DEL', KEYS[i])
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  local left = redis.call('HINCRBY', KEYS[2], ARGV[2], -1)
  if left <= 0 then
    redis.call('HDEL', KEYS[2], ARGV[2])
    redis.call('HDEL', KEYS[3], ARGV[2])
  end
end
return 1
`)

// reserveScript admits a run into every scope or none.
//
// KEYS: (current, reserve, limit) per scope. ARGV: runID.
var reserveScript = goredis.NewScript(`
local run = ARGV[1]
local scopes = #KEYS / 3

for i = 0, scopes - 1 do
  local current = KEYS[i * 3 + 1]
  local reserve = KEYS[i * 3 + 2]
  if redis.call('SISMEMBER', current, run) == 0 and redis.call('SISMEMBER', reserve, run) == 0 then
    local limit = redis.call('GET', KEYS[i * 3 + 3])
    if limit and redis.call('SCARD', current) >= tonumber(limit) then
      return 0
    end
  end
end

for i = 0, scopes - 1 do
  redis.call('SREM', KEYS[i * 3 + 2], run)
  redis.call('SADD', KEYS[i * 3 + 1], run)
end
return 1
`)
