package service

import (
	"context"
	"strings"

	"nextgen/internal/execution/model"
	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxSourceBytes = 64 * 1024
	defaultMaxInputBytes  = 64 * 1024
)

// IntakeConfig bounds accepted requests.
type IntakeConfig struct {
	MaxSourceBytes int
	MaxInputBytes  int
	Limits         model.Limits
}

// Intake validates requests and turns them into jobs. It never touches the filesystem.
type Intake struct {
	cfg   IntakeConfig
	newID func() string
}

// NewIntake creates an intake with defaults applied.
func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	return &Intake{cfg: cfg, newID: newJobID}
}

// newJobID returns a random UUIDv4 without dashes so it is safe as a path element.
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewJob validates req and builds a pending job with a fresh id.
func (i *Intake) NewJob(ctx context.Context, req model.RunRequest) (*model.Job, error) {
	if strings.TrimSpace(req.Language) == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("language is required")
	}
	lang, ok := model.ParseLanguage(req.Language)
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", strings.TrimSpace(req.Language))
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("code is required")
	}
	if len(req.Code) > i.cfg.MaxSourceBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code exceeds the %d byte limit", i.cfg.MaxSourceBytes)
	}

	var stdin []byte
	if req.Input != nil {
		if len(*req.Input) > i.cfg.MaxInputBytes {
			return nil, appErr.Newf(appErr.CustomInputTooLarge, "input exceeds the %d byte limit", i.cfg.MaxInputBytes)
		}
		stdin = []byte(*req.Input)
	}

	job := model.NewJob(i.newID(), lang, req.Code, stdin, i.cfg.Limits)
	logger.Debug(ctx, "job accepted",
		zap.String("job_id", job.ID),
		zap.String("language", string(lang)),
		zap.Int("source_bytes", len(req.Code)),
		zap.Int("input_bytes", len(stdin)),
	)
	return job, nil
}
