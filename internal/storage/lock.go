package storage

import "github.com/zeebo/xxh3"

// LockID folds a lock name into the signed 64-bit key used by advisory locks.
func LockID(key string) int64 {
	return int64(xxh3.HashString(key))
}
