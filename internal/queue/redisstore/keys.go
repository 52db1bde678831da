package redisstore

// queueKeys holds the Redis key layout of one queue:
//
//	<prefix>:{<queue>}:wait        list, LPUSH in / RPOPLPUSH out
//	<prefix>:{<queue>}:active      list
//	<prefix>:{<queue>}:delayed     sorted set scored by run-at ms
//	<prefix>:{<queue>}:completed   sorted set scored by finished ms
//	<prefix>:{<queue>}:failed      sorted set scored by finished ms
//	<prefix>:{<queue>}:job:<id>    hash
//	<prefix>:{<queue>}:lock:<id>   string holding the owner token, with TTL
//
// The braces are a Redis Cluster hash tag: all keys of a queue hash to one
// slot, so the scripts may touch job and lock keys they derive themselves.
type queueKeys struct {
	base      string
	wait      string
	active    string
	delayed   string
	completed string
	failed    string
}

func (s *Store) keys(queueName string) queueKeys {
	base := s.prefix + ":{" + queueName + "}:"
	return queueKeys{
		base:      base,
		wait:      base + "wait",
		active:    base + "active",
		delayed:   base + "delayed",
		completed: base + "completed",
		failed:    base + "failed",
	}
}

func (k queueKeys) job(id string) string  { return k.base + "job:" + id }
func (k queueKeys) lock(id string) string { return k.base + "lock:" + id }
