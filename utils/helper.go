package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bsm/redislock"
	"github.com/facturasoft/factura_backend/config"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	result := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func IsValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}

// CompanyLock serializes a critical section per company via redis.
// The lock is released when the function returns; callers should hold it for
// the whole mutation (tx begin through commit).
func CompanyLock(ctx context.Context, companyId string, lockType string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", companyId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, companyId)
	// concurrent mutations on the same company queue up behind the holder
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 200),
	}
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, opts)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for companyId", companyId, err)
		return nil, errors.New("could not obtain lock for companyId")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for companyId", companyId, err)
		return nil, err
	}
	release := func() { _ = lock.Release(ctx) }
	return release, nil
}
