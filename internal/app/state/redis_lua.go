package state

import "github.com/redis/go-redis/v9"

// luaPut writes one presence entry unless the socket is already present.
// KEYS[1] = instance hash, KEYS[2] = user set, KEYS[3] = instances set
// ARGV[1] = socketID, ARGV[2] = userName, ARGV[3] = member, ARGV[4] = instanceUID
// Returns: 1 on success, 0 if the socket already exists
var luaPut = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
    return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// luaDelete removes one presence entry and its user-index member. The user set key is
// built from the stored name, which requires a single node or a hash-tagged prefix.
// KEYS[1] = instance hash
// ARGV[1] = socketID, ARGV[2] = user key prefix, ARGV[3] = member
// Returns: 1 if an entry was removed, 0 otherwise
var luaDelete = redis.NewScript(`
local user = redis.call('HGET', KEYS[1], ARGV[1])
if not user then
    return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SREM', ARGV[2] .. user, ARGV[3])
return 1
`)

// luaRemoveInstance drops every entry of one instance. Like luaDelete it touches user
// set keys not passed in KEYS.
// KEYS[1] = instance hash, KEYS[2] = instances set, KEYS[3] = alive key
// ARGV[1] = user key prefix, ARGV[2] = instanceUID, ARGV[3] = only if expired (1 or 0)
// Returns: number of entries removed, or -1 if the instance is still alive and ARGV[3] is 1
var luaRemoveInstance = redis.NewScript(`
if tonumber(ARGV[3]) == 1 and redis.call('EXISTS', KEYS[3]) == 1 then
    return -1
end
local entries = redis.call('HGETALL', KEYS[1])
local removed = 0
for i = 1, #entries, 2 do
    redis.call('SREM', ARGV[1] .. entries[i + 1], ARGV[2] .. '/' .. entries[i])
    removed = removed + 1
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
redis.call('DEL', KEYS[3])
return removed
`)
