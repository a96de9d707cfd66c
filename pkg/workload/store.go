// Package workload stores feature vectors and generated jobs, and answers the
// resume queries the engine needs: pending counts and windows of jobs whose
// ids are absent from the output sink.
package workload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Sumatoshi-tech/varorder/pkg/experiment"
)

// Driver names a supported database backend.
type Driver string

// Supported drivers.
const (
	DriverSQLite Driver = "sqlite"
	DriverMySQL  Driver = "mysql"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 1000

const dirPerm = 0o750

// Store errors.
var (
	ErrUnknownDriver = errors.New("unknown workload driver")
	ErrEmptyDSN      = errors.New("empty workload dsn")
)

// Options configures Open.
type Options struct {
	Driver    Driver
	DSN       string
	BatchSize int
	Debug     bool
}

// Store is the gorm-backed workload source.
type Store struct {
	db        *gorm.DB
	batchSize int
}

// Open connects to the workload database and migrates its schema.
func Open(opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, ErrEmptyDSN
	}

	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	logMode := gormlogger.Silent
	if opts.Debug {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(logMode),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open workload %s: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite || opts.Driver == "" {
		sqlDB, connErr := db.DB()
		if connErr != nil {
			return nil, fmt.Errorf("workload connection: %w", connErr)
		}

		// One writer at a time; sqlite serializes anyway.
		sqlDB.SetMaxOpenConns(1)

		pragmaErr := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;").Error
		if pragmaErr != nil {
			return nil, fmt.Errorf("configure sqlite: %w", pragmaErr)
		}
	}

	migrateErr := db.AutoMigrate(&featureVectorRow{}, &jobRow{}, &completedRow{})
	if migrateErr != nil {
		return nil, fmt.Errorf("migrate workload schema: %w", migrateErr)
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	return &Store{db: db, batchSize: batch}, nil
}

func dialectorFor(opts Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		if dir := filepath.Dir(opts.DSN); dir != "." && opts.DSN != ":memory:" {
			mkdirErr := os.MkdirAll(dir, dirPerm)
			if mkdirErr != nil {
				return nil, fmt.Errorf("create workload dir: %w", mkdirErr)
			}
		}

		return sqlite.Open(opts.DSN), nil
	case DriverMySQL:
		return mysql.Open(opts.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("workload connection: %w", err)
	}

	closeErr := sqlDB.Close()
	if closeErr != nil {
		return fmt.Errorf("close workload: %w", closeErr)
	}

	return nil
}

// Ping checks the connection; used for readiness.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("workload connection: %w", err)
	}

	return sqlDB.PingContext(ctx)
}

// PutFeatureVectors inserts or replaces feature vectors by problem id.
func (s *Store) PutFeatureVectors(ctx context.Context, fvs []experiment.FeatureVector) error {
	if len(fvs) == 0 {
		return nil
	}

	rows := make([]featureVectorRow, len(fvs))
	for i, fv := range fvs {
		rows[i] = toFeatureVectorRow(fv)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("store feature vectors: %w", err)
	}

	return nil
}

// FeatureVectors returns every stored feature vector ordered by problem id.
func (s *Store) FeatureVectors(ctx context.Context) ([]experiment.FeatureVector, error) {
	var rows []featureVectorRow

	err := s.db.WithContext(ctx).Order("problem_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load feature vectors: %w", err)
	}

	out := make([]experiment.FeatureVector, len(rows))
	for i, r := range rows {
		out[i] = r.featureVector()
	}

	return out, nil
}

// PutJobs inserts jobs in one transaction.
func (s *Store) PutJobs(ctx context.Context, jobs []experiment.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	rows := make([]jobRow, len(jobs))
	for i, j := range jobs {
		rows[i] = toJobRow(j)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, s.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("store jobs: %w", err)
	}

	return nil
}

// MaxID returns the largest job id; ok is false for an empty workload.
func (s *Store) MaxID(ctx context.Context) (id int64, ok bool, err error) {
	return s.scanID(s.db.WithContext(ctx).Model(&jobRow{}).Select("MAX(id)"))
}

// Count returns the number of jobs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64

	err := s.db.WithContext(ctx).Model(&jobRow{}).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}

	return n, nil
}

// CountByProblem returns the number of jobs per problem id.
func (s *Store) CountByProblem(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ProblemID string
		Jobs      int64
	}

	err := s.db.WithContext(ctx).Model(&jobRow{}).
		Select("problem_id, COUNT(*) AS jobs").
		Group("problem_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count jobs by problem: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ProblemID] = r.Jobs
	}

	return out, nil
}

// SyncCompleted replaces the completed-id table with ids.
func (s *Store) SyncCompleted(ctx context.Context, ids []int64) error {
	rows := make([]completedRow, len(ids))
	for i, id := range ids {
		rows[i] = completedRow{ID: id}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delErr := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&completedRow{}).Error
		if delErr != nil {
			return delErr
		}

		if len(rows) == 0 {
			return nil
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, s.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("sync completed jobs: %w", err)
	}

	return nil
}

// pending selects jobs without a completed row.
func (s *Store) pending(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&jobRow{}).
		Joins("LEFT JOIN completed_jobs ON completed_jobs.id = jobs.id").
		Where("completed_jobs.id IS NULL")
}

// ResumePoint returns the smallest pending job id; ok is false when nothing is pending.
func (s *Store) ResumePoint(ctx context.Context) (id int64, ok bool, err error) {
	return s.scanID(s.pending(ctx).Select("MIN(jobs.id)"))
}

// PendingCount returns the number of jobs not yet in the sink.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64

	err := s.pending(ctx).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}

	return n, nil
}

// PendingWindow returns up to limit pending jobs with id >= from, ordered by id.
func (s *Store) PendingWindow(ctx context.Context, from int64, limit int) ([]experiment.Job, error) {
	var rows []jobRow

	err := s.pending(ctx).
		Select("jobs.*").
		Where("jobs.id >= ?", from).
		Order("jobs.id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load job window from %d: %w", from, err)
	}

	return toJobs(rows), nil
}

// ProbeSample returns the lowest-id job of every problem.
func (s *Store) ProbeSample(ctx context.Context) ([]experiment.Job, error) {
	var rows []jobRow

	firstIDs := s.db.Model(&jobRow{}).Select("MIN(id)").Group("problem_id")

	err := s.db.WithContext(ctx).
		Where("id IN (?)", firstIDs).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load probe jobs: %w", err)
	}

	return toJobs(rows), nil
}

func (s *Store) scanID(q *gorm.DB) (int64, bool, error) {
	var id sql.NullInt64

	err := q.Row().Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("scan job id: %w", err)
	}

	return id.Int64, id.Valid, nil
}

func toJobs(rows []jobRow) []experiment.Job {
	out := make([]experiment.Job, len(rows))
	for i, r := range rows {
		out[i] = r.job()
	}

	return out
}
