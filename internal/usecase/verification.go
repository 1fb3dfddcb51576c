package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/facegate/internal/imagedecode"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/repository"
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveProfile(ctx context.Context, profile *repository.StudentProfile) error
	FindProfileByStudentID(ctx context.Context, studentID string) (*repository.StudentProfile, error)
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndStudent(ctx context.Context, requestID, studentID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, studentID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// FaceVerifier runs the verification pipeline against a stored reference.
type FaceVerifier interface {
	Verify(stored []byte, submitted string) Result
}

// ProfileValidator vets an enrollment photo before it becomes the reference.
type ProfileValidator interface {
	Validate(img gocv.Mat) (bool, string)
}

// VerificationUseCase encapsulates business logic for the attendance flow.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	verifier       FaceVerifier
	validator      ProfileValidator
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedVerification struct {
	RequestID  string    `json:"request_id"`
	StudentID  string    `json:"student_id"`
	Confidence float64   `json:"confidence"`
	Verified   bool      `json:"verified"`
	Reason     string    `json:"reason"`
	Code       string    `json:"code"`
	Hash       string    `json:"sha1_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// DuplicateReport represents duplicate submissions for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, verifier FaceVerifier, validator ProfileValidator, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		verifier:       verifier,
		validator:      validator,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// SubmitAttendance verifies a base64 submission against the student's
// enrolled reference and persists the outcome. A failed verification is a
// valid result, not an error; errors mean the attempt could not be recorded.
func (uc *VerificationUseCase) SubmitAttendance(ctx context.Context, studentID, image string) (string, Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_attendance", requestID)

	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", Result{}, err
	}

	// A missing profile flows into Verify as empty stored bytes, which it
	// rejects with the same message as an empty stored image. The attempt
	// is still logged.
	var storedImage []byte
	profile, err := uc.repo.FindProfileByStudentID(ctx, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		wrapped := logging.NewOperationError("usecase.find_profile", requestID, err)
		opLogger.Error("failed to load student profile", zap.Error(wrapped))
		return "", Result{}, wrapped
	}
	if profile != nil {
		storedImage = profile.FaceImage
	}

	result := uc.verifier.Verify(storedImage, image)

	hash := sha1.Sum([]byte(image))
	hashHex := hex.EncodeToString(hash[:])
	log := &repository.VerificationLog{
		RequestID:  requestID,
		StudentID:  studentID,
		Confidence: result.Confidence,
		Verified:   result.Verified,
		Reason:     result.Message,
		Code:       result.Code.String(),
		SHA1Hash:   hashHex,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return "", Result{}, wrapped
	}

	cached := cachedVerification{
		RequestID:  requestID,
		StudentID:  studentID,
		Confidence: log.Confidence,
		Verified:   log.Verified,
		Reason:     log.Reason,
		Code:       log.Code,
		Hash:       log.SHA1Hash,
		CreatedAt:  log.CreatedAt,
	}

	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return "", Result{}, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return "", Result{}, err
	}

	return requestID, result, nil
}

// EnrollProfile validates and stores a new reference image for a student.
// The bool reports whether enrollment was accepted; the string is the
// user-facing reason.
func (uc *VerificationUseCase) EnrollProfile(ctx context.Context, studentID, image string) (bool, string, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll_profile", studentID)

	raw, err := decodeSubmittedBase64(image)
	if err != nil {
		return false, "invalid face image format", nil
	}

	img, err := imagedecode.Decode(raw)
	if err != nil {
		return false, decodeFailureMessage("enrollment", err), nil
	}
	defer img.Close()

	message := "Enrollment successful"
	if uc.validator != nil {
		ok, validationMessage := uc.validator.Validate(img)
		if !ok {
			return false, validationMessage, nil
		}
		message = validationMessage
	}

	profile := &repository.StudentProfile{
		StudentID: studentID,
		FaceImage: raw,
		UpdatedAt: time.Now().UTC(),
	}
	if err := uc.repo.SaveProfile(ctx, profile); err != nil {
		wrapped := logging.NewOperationError("usecase.save_profile", studentID, err)
		opLogger.Error("failed to persist student profile", zap.Error(wrapped))
		return false, "", wrapped
	}

	return true, message, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, studentID, requestID string) (*repository.VerificationLog, error) {
	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			log := &repository.VerificationLog{
				RequestID:  requestID,
				StudentID:  studentID,
				Confidence: payload.Confidence,
				Verified:   payload.Verified,
				Reason:     payload.Reason,
				Code:       payload.Code,
				SHA1Hash:   payload.Hash,
				CreatedAt:  payload.CreatedAt,
			}
			if payload.StudentID != "" {
				log.StudentID = payload.StudentID
			}
			if payload.RequestID != "" {
				log.RequestID = payload.RequestID
			}
			return log, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndStudent(ctx, requestID, studentID)
	if err != nil {
		return nil, err
	}
	return log, nil
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, studentID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndStudent(ctx, requestID, studentID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, studentID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
