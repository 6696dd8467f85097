package service

import (
	"context"
	"fmt"

	"nextgen/internal/execution/model"
	"nextgen/internal/sandbox/config"
	"nextgen/pkg/utils/logger"
	"nextgen/pkg/utils/response"

	"go.uber.org/zap"
)

// LanguageInfo describes one accepted language.
type LanguageInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Service wires intake, admission and aggregation for the run endpoint.
type Service struct {
	intake   *Intake
	pool     *Pool
	langRepo config.LanguageSpecRepository
}

// Config holds service dependencies.
type Config struct {
	Intake   *Intake
	Pool     *Pool
	LangRepo config.LanguageSpecRepository
}

// NewService creates a new execution service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Intake == nil {
		return nil, fmt.Errorf("intake is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.LangRepo == nil {
		return nil, fmt.Errorf("language repository is required")
	}
	for _, lang := range model.SupportedLanguages {
		if _, err := cfg.LangRepo.GetLanguageSpec(context.Background(), string(lang)); err != nil {
			return nil, fmt.Errorf("language %s has no toolchain configured: %w", lang, err)
		}
	}
	return &Service{intake: cfg.Intake, pool: cfg.Pool, langRepo: cfg.LangRepo}, nil
}

// Run validates, executes and aggregates one request.
func (s *Service) Run(ctx context.Context, req model.RunRequest) (int, response.Body) {
	job, err := s.intake.NewJob(ctx, req)
	if err != nil {
		return Aggregate(ctx, nil, err)
	}
	ctx = logger.WithJobID(ctx, job.ID)

	err = s.pool.Submit(ctx, job)
	status, body := Aggregate(ctx, job, err)
	logger.Info(ctx, "job done",
		zap.String("status", string(job.FinalStatus())),
		zap.Int("outcome_code", int(job.OutcomeCode())),
		zap.Int("http_status", status),
	)
	return status, body
}

// Languages lists the accepted languages.
func (s *Service) Languages(ctx context.Context) []LanguageInfo {
	specs := s.langRepo.ListLanguageSpecs(ctx)
	out := make([]LanguageInfo, 0, len(specs))
	for _, spec := range specs {
		if _, ok := model.ParseLanguage(spec.ID); !ok {
			continue
		}
		out = append(out, LanguageInfo{ID: spec.ID, Name: spec.Name, Version: spec.Version})
	}
	return out
}

// Stats reports admission counters.
func (s *Service) Stats() (inflight, queued int64) {
	return s.pool.Inflight(), s.pool.Queued()
}

// Close drains the worker pool.
func (s *Service) Close() {
	s.pool.Close()
}
