package data

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// jobLocker 基于 redsync 的定时任务锁
type jobLocker struct {
	sync *redsync.Redsync
	log  *log.Helper
}

// NewJobLocker 创建任务锁
func NewJobLocker(sync *redsync.Redsync, logger log.Logger) biz.JobLocker {
	return &jobLocker{
		sync: sync,
		log:  log.NewHelper(logger),
	}
}

// TryLock 只尝试一次，未获取到锁时返回 ErrLockNotAcquired
func (l *jobLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (biz.JobLock, error) {
	mutex := l.sync.NewMutex(key, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, redsync.ErrFailed) {
			l.log.Warnf("job lock attempt failed: key=%s, error=%v", key, err)
		}
		return nil, creditErrors.ErrLockNotAcquired.WithCause(err).WithMetadata(map[string]string{"key": key})
	}
	return &jobLock{mutex: mutex}, nil
}

type jobLock struct {
	mutex *redsync.Mutex
}

func (l *jobLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("job lock expired before release")
	}
	return nil
}
