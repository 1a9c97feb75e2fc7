package jobs

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iddaa-lens/edge/pkg/logger"
)

const (
	tryLockQuery = "SELECT pg_try_advisory_lock($1)"
	unlockQuery  = "SELECT pg_advisory_unlock($1)"

	lockPollInterval = 100 * time.Millisecond
)

// DBTX is the part of a pgx connection or pool the lock manager needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// JobLockManager provides cross-replica mutual exclusion for job runs
type JobLockManager interface {
	// AcquireLock returns false without waiting when another holder has the lock
	AcquireLock(ctx context.Context, jobName string) (bool, error)

	ReleaseLock(ctx context.Context, jobName string) error

	// AcquireLockWithTimeout polls until the lock is acquired or timeout elapses
	AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error)
}

// PostgreSQLLockManager implements JobLockManager with session-level
// PostgreSQL advisory locks. The session that acquires a lock must also
// release it, so db should pin a connection when used with a pool. Calls
// are serialized since a single pgx connection is not safe for concurrent use.
type PostgreSQLLockManager struct {
	mu        sync.Mutex
	db        DBTX
	namespace string
	logger    *logger.Logger
}

// NewPostgreSQLLockManager creates a lock manager. Lock ids are derived from
// namespace and job name so two deployments sharing a database do not collide.
func NewPostgreSQLLockManager(db DBTX, namespace string) *PostgreSQLLockManager {
	return &PostgreSQLLockManager{
		db:        db,
		namespace: namespace,
		logger:    logger.New("job-lock-manager"),
	}
}

// LockID returns the advisory lock key for a job
func (p *PostgreSQLLockManager) LockID(jobName string) int64 {
	hash := md5.Sum([]byte(p.namespace + ":" + jobName))
	id := int64(binary.BigEndian.Uint64(hash[:8]))
	if id < 0 {
		id = -id
	}
	return id
}

func (p *PostgreSQLLockManager) AcquireLock(ctx context.Context, jobName string) (bool, error) {
	lockID := p.LockID(jobName)

	p.mu.Lock()
	defer p.mu.Unlock()

	var acquired bool
	if err := p.db.QueryRow(ctx, tryLockQuery, lockID).Scan(&acquired); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire lock for job %s: %w", jobName, err)
	}

	if acquired {
		p.logger.Debug().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_acquired").
			Msg("Acquired advisory lock")
	} else {
		p.logger.Debug().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_already_held").
			Msg("Advisory lock held by another instance")
	}
	return acquired, nil
}

func (p *PostgreSQLLockManager) ReleaseLock(ctx context.Context, jobName string) error {
	lockID := p.LockID(jobName)

	p.mu.Lock()
	defer p.mu.Unlock()

	var released bool
	if err := p.db.QueryRow(ctx, unlockQuery, lockID).Scan(&released); err != nil {
		return fmt.Errorf("failed to release lock for job %s: %w", jobName, err)
	}
	if !released {
		p.logger.Warn().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Released a lock this session did not hold")
	}
	return nil
}

func (p *PostgreSQLLockManager) AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		acquired, err := p.AcquireLock(ctx, jobName)
		if err != nil || acquired {
			return acquired, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LockGuard tracks whether a lock was taken so release is safe to defer
type LockGuard struct {
	lockManager JobLockManager
	jobName     string
	acquired    bool
}

func NewLockGuard(lockManager JobLockManager, jobName string) *LockGuard {
	return &LockGuard{lockManager: lockManager, jobName: jobName}
}

func (lg *LockGuard) Acquire(ctx context.Context) (bool, error) {
	acquired, err := lg.lockManager.AcquireLock(ctx, lg.jobName)
	if err != nil {
		return false, err
	}
	lg.acquired = acquired
	return acquired, nil
}

func (lg *LockGuard) AcquireWithTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	acquired, err := lg.lockManager.AcquireLockWithTimeout(ctx, lg.jobName, timeout)
	if err != nil {
		return false, err
	}
	lg.acquired = acquired
	return acquired, nil
}

// Release is a no-op unless the guard holds the lock
func (lg *LockGuard) Release(ctx context.Context) error {
	if !lg.acquired {
		return nil
	}
	if err := lg.lockManager.ReleaseLock(ctx, lg.jobName); err != nil {
		return err
	}
	lg.acquired = false
	return nil
}

func (lg *LockGuard) IsAcquired() bool {
	return lg.acquired
}
