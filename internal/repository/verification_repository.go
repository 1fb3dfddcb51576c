package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/facegate/internal/logging"
)

// ErrNotFound reports a missing profile or log without exposing the
// persistence layer to callers.
var ErrNotFound = errors.New("record not found")

// StudentProfile holds the enrolled reference image for a student.
type StudentProfile struct {
	ID        uint      `gorm:"primaryKey"`
	StudentID string    `gorm:"column:student_id;uniqueIndex;size:64"`
	FaceImage []byte    `gorm:"column:face_image;type:bytea"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (StudentProfile) TableName() string {
	return "student_profiles"
}

// VerificationLog represents a persisted attendance verification attempt.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	StudentID  string    `gorm:"column:student_id;size:64"`
	Confidence float64   `gorm:"column:confidence"`
	Verified   bool      `gorm:"column:verified"`
	Reason     string    `gorm:"column:reason;type:text"`
	Code       string    `gorm:"column:code;size:32"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation carries the raw aggregates computed in the database.
type MetricsAggregation struct {
	TotalCount        int64
	VerifiedCount     int64
	AverageConfidence float64
}

// VerificationRepository provides persistence APIs for profiles and
// verification logs.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&StudentProfile{}, &VerificationLog{})
}

// SaveProfile upserts the enrolled reference image for a student.
func (r *VerificationRepository) SaveProfile(ctx context.Context, profile *StudentProfile) error {
	return r.executeWithRetry(ctx, "repository.save_profile", profile.StudentID, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"face_image", "updated_at"}),
		}).Create(profile).Error
	})
}

// FindProfileByStudentID retrieves the enrolled profile for a student.
func (r *VerificationRepository) FindProfileByStudentID(ctx context.Context, studentID string) (*StudentProfile, error) {
	var profile StudentProfile
	err := r.db.WithContext(ctx).First(&profile, "student_id = ?", studentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndStudent retrieves a verification log matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndStudent(ctx context.Context, requestID, studentID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.db.WithContext(ctx).First(&log, "request_id = ? AND student_id = ?", requestID, studentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other submissions by the same student carrying
// the same image hash.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, studentID, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND sha1_hash = ? AND request_id <> ?", studentID, hash, excludeRequestID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes verification counters in the database.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		VerifiedCount     int64
		AverageConfidence sql.NullFloat64
	}
	err := r.db.WithContext(ctx).
		Model(&VerificationLog{}).
		Select("COUNT(*) AS total_count, COUNT(*) FILTER (WHERE verified) AS verified_count, AVG(confidence) AS average_confidence").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		VerifiedCount:     row.VerifiedCount,
		AverageConfidence: row.AverageConfidence.Float64,
	}, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isRetryableError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
