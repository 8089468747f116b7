package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by RedisStore.
const DefaultKeyPrefix = "hzp:"

// RedisStore keeps presence entries in Redis.
//
// Layout:
//
//	<prefix>instance:<uid>  hash   socketID -> userName
//	<prefix>user:<name>     set    "<uid>/<socketID>"
//	<prefix>instances       set    instance UIDs with entries or heartbeats
//	<prefix>alive:<uid>     string liveness marker with TTL
//
// The delete scripts derive user-set keys from stored values, so every key must live
// on one node. On Redis Cluster use a hash-tagged prefix such as "{hzp}:" to pin all
// keys to one slot.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps an existing client. An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) instanceKey(uid string) string { return s.prefix + "instance:" + uid }
func (s *RedisStore) userPrefix() string            { return s.prefix + "user:" }
func (s *RedisStore) userKey(name string) string    { return s.userPrefix() + name }
func (s *RedisStore) instancesKey() string          { return s.prefix + "instances" }
func (s *RedisStore) aliveKey(uid string) string    { return s.prefix + "alive:" + uid }

func (s *RedisStore) Put(ctx context.Context, instanceUID, socketID, userName string) error {
	keys := []string{s.instanceKey(instanceUID), s.userKey(userName), s.instancesKey()}
	res, err := luaPut.Run(ctx, s.client, keys, socketID, userName, entryMember(instanceUID, socketID), instanceUID).Int()
	if err != nil {
		return unavailable("put", err)
	}
	if res == 0 {
		return ErrDuplicateSocket
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, instanceUID, socketID string) error {
	keys := []string{s.instanceKey(instanceUID)}
	if err := luaDelete.Run(ctx, s.client, keys, socketID, s.userPrefix(), entryMember(instanceUID, socketID)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *RedisStore) SocketsForInstance(ctx context.Context, instanceUID string) (map[string]string, error) {
	sockets, err := s.client.HGetAll(ctx, s.instanceKey(instanceUID)).Result()
	if err != nil {
		return nil, unavailable("sockets for instance", err)
	}
	return sockets, nil
}

func (s *RedisStore) AllSockets(ctx context.Context) (map[string]string, error) {
	uids, err := s.client.SMembers(ctx, s.instancesKey()).Result()
	if err != nil {
		return nil, unavailable("all sockets", err)
	}

	out := make(map[string]string)
	if len(uids) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(uids))
	for i, uid := range uids {
		cmds[i] = pipe.HGetAll(ctx, s.instanceKey(uid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("all sockets", err)
	}

	for _, cmd := range cmds {
		for socketID, userName := range cmd.Val() {
			out[socketID] = userName
		}
	}
	return out, nil
}

func (s *RedisStore) CountSocketsForUser(ctx context.Context, userName string) (int, error) {
	n, err := s.client.SCard(ctx, s.userKey(userName)).Result()
	if err != nil {
		return 0, unavailable("count sockets", err)
	}
	return int(n), nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, instanceUID string, ttl time.Duration) (bool, error) {
	var exists *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		exists = p.Exists(ctx, s.aliveKey(instanceUID))
		p.Set(ctx, s.aliveKey(instanceUID), time.Now().Unix(), ttl)
		p.SAdd(ctx, s.instancesKey(), instanceUID)
		return nil
	})
	if err != nil {
		return false, unavailable("heartbeat", err)
	}
	return exists.Val() == 0, nil
}

func (s *RedisStore) removeInstance(ctx context.Context, instanceUID string, onlyExpired bool) (int, error) {
	flag := 0
	if onlyExpired {
		flag = 1
	}
	keys := []string{s.instanceKey(instanceUID), s.instancesKey(), s.aliveKey(instanceUID)}
	return luaRemoveInstance.Run(ctx, s.client, keys, s.userPrefix(), instanceUID, flag).Int()
}

func (s *RedisStore) RemoveInstance(ctx context.Context, instanceUID string) error {
	if _, err := s.removeInstance(ctx, instanceUID, false); err != nil {
		return unavailable("remove instance", err)
	}
	return nil
}

func (s *RedisStore) ReapExpired(ctx context.Context) (int, error) {
	uids, err := s.client.SMembers(ctx, s.instancesKey()).Result()
	if err != nil {
		return 0, unavailable("reap", err)
	}

	removed := 0
	for _, uid := range uids {
		n, err := s.removeInstance(ctx, uid, true)
		if err != nil {
			return removed, unavailable("reap", err)
		}
		if n > 0 {
			removed += n
		}
	}
	return removed, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
