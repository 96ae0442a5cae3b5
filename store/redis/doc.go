// Package redis implements store.Store using Redis. Checkpoints are stored
// as Redis Hashes holding the JSON document; Sorted Sets scored by update
// time index them for newest-first listing. Every save is a MULTI/EXEC
// transaction, so readers never observe a record without its index entry.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
