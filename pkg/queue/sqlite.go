package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqliteStore persists jobs in a single-file SQLite database.
type sqliteStore struct {
	db   *gorm.DB
	path string
	cfg  *Config
	now  func() time.Time
}

func newSQLiteStore(cfg *Config) (*sqliteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	// SQLite pragmas:
	// - journal_mode(WAL): Write-Ahead Logging so a crash mid-write never
	//   corrupts already-committed jobs
	// - busy_timeout(5000): Wait up to 5 seconds when the database is locked
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// Single writer; the ingest and delivery goroutines share one connection
	// instead of racing for the file lock.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue schema: %w", err)
	}

	return &sqliteStore{db: db, path: cfg.Path, cfg: cfg, now: time.Now}, nil
}

func (s *sqliteStore) Push(ctx context.Context, job *Job) error {
	job.ID = 0
	job.Attempts = 0
	job.CreatedAt = s.now().Unix()
	job.NextEligible = job.CreatedAt

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("next_eligible <= ?", now.Unix()).
		Order("id ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query due job: %w", err)
	}
	return &job, nil
}

func (s *sqliteStore) Mark(ctx context.Context, id uint64, ok bool, now time.Time) error {
	if ok {
		if err := s.db.WithContext(ctx).Delete(&Job{}, id).Error; err != nil {
			return fmt.Errorf("failed to remove delivered job: %w", err)
		}
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.First(&job, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		job.Attempts++
		job.NextEligible = now.Add(backoffDelay(job.Attempts)).Unix()
		return tx.Model(&Job{}).Where("id = ?", id).Updates(map[string]any{
			"attempts":      job.Attempts,
			"next_eligible": job.NextEligible,
		}).Error
	})
}

func (s *sqliteStore) Depth(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Job{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (s *sqliteStore) List(ctx context.Context, limit int) ([]Job, error) {
	var jobs []Job
	q := s.db.WithContext(ctx).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *sqliteStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", res.Error)
	}
	if err := s.compact(ctx); err != nil {
		return res.RowsAffected, err
	}
	return res.RowsAffected, nil
}

func (s *sqliteStore) EnforceLimits(ctx context.Context, now time.Time) (int64, error) {
	var evicted int64

	if s.cfg.MaxAge > 0 {
		cutoff := now.Add(-s.cfg.MaxAge).Unix()
		res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Job{})
		if res.Error != nil {
			return evicted, fmt.Errorf("failed to evict aged jobs: %w", res.Error)
		}
		evicted += res.RowsAffected
	}

	if s.cfg.MaxBytes > 0 {
		trimmed, err := s.trimToSize(ctx)
		if err != nil {
			return evicted, err
		}
		evicted += trimmed
	}

	if evicted > 0 {
		if err := s.compact(ctx); err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

// trimToSize deletes the oldest jobs in batches until the database file fits
// under the configured byte cap.
func (s *sqliteStore) trimToSize(ctx context.Context) (int64, error) {
	var evicted int64
	for {
		size, err := s.footprint()
		if err != nil {
			return evicted, err
		}
		if size <= int64(s.cfg.MaxBytes) {
			return evicted, nil
		}

		res := s.db.WithContext(ctx).Exec(
			"DELETE FROM jobs WHERE id IN (SELECT id FROM jobs ORDER BY created_at ASC, id ASC LIMIT ?)",
			s.cfg.TrimBatch,
		)
		if res.Error != nil {
			return evicted, fmt.Errorf("failed to trim jobs: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// The file is over cap but empty of jobs; compaction is all that
			// is left to reclaim space.
			return evicted, s.compact(ctx)
		}
		evicted += res.RowsAffected

		if err := s.compact(ctx); err != nil {
			return evicted, err
		}
	}
}

// compact folds the WAL back into the main file and returns freed pages to
// the filesystem so footprint measurements reflect reality.
func (s *sqliteStore) compact(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum queue database: %w", err)
	}
	return nil
}

// footprint is the combined size of the database file and its WAL sidecar.
func (s *sqliteStore) footprint() (int64, error) {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		total += info.Size()
	}
	return total, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
