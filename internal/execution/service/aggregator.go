package service

import (
	"context"
	"errors"
	"net/http"

	"nextgen/internal/execution/model"
	"nextgen/internal/sandbox"
	appErr "nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"
	"nextgen/pkg/utils/response"

	"go.uber.org/zap"
)

const (
	// InternalErrorMessage is the only text callers see for infrastructure faults.
	InternalErrorMessage = "internal error, please try again later"
	// BusyMessage is returned when admission control rejects a job.
	BusyMessage = "server is busy, please try again later"
	// CanceledMessage is returned when the caller went away before the job finished.
	CanceledMessage = "request canceled before execution finished"
)

// Aggregate maps a finished job, or the error that stopped it, onto the HTTP
// status and body returned to the caller. It is the only place that decides
// what a caller may see.
func Aggregate(ctx context.Context, job *model.Job, err error) (int, response.Body) {
	if err != nil {
		return aggregateError(ctx, job, err)
	}
	if job == nil {
		logger.Error(ctx, "aggregate called without job")
		return http.StatusInternalServerError, response.ErrorBody(InternalErrorMessage)
	}

	switch status := job.FinalStatus(); status {
	case model.StatusCompleted:
		out := job.Outcome()
		return http.StatusOK, response.SuccessBody(out.Output, out.Stderr, out.Truncated)
	case model.StatusCompileFailed, model.StatusRunFailed:
		return http.StatusOK, response.ErrorBody(job.Diagnostic())
	case model.StatusTimedOut:
		return http.StatusOK, response.ErrorBody(sandbox.TimedOutMessage)
	default:
		logger.Error(ctx, "job finished in non-terminal state", zap.String("status", string(status)))
		return http.StatusInternalServerError, response.ErrorBody(InternalErrorMessage)
	}
}

func aggregateError(ctx context.Context, job *model.Job, err error) (int, response.Body) {
	customErr := appErr.GetError(err)
	code := customErr.Code
	switch {
	case code == appErr.JudgeQueueFull:
		return code.HTTPStatus(), response.ErrorBody(BusyMessage)
	case code.IsValidation(), code == appErr.TooManyRequests:
		return code.HTTPStatus(), response.ErrorBody(customErr.Error())
	case code == appErr.Timeout, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fields := []zap.Field{zap.Error(err)}
		if job != nil {
			fields = append(fields, zap.String("job_id", job.ID), zap.String("status", string(job.FinalStatus())))
		}
		logger.Warn(ctx, "job canceled by caller", fields...)
		return http.StatusRequestTimeout, response.ErrorBody(CanceledMessage)
	}

	fields := []zap.Field{
		zap.Int("code", int(code)),
		zap.Error(err),
		zap.String("stack", customErr.Stack),
	}
	if job != nil {
		fields = append(fields, zap.String("job_id", job.ID), zap.String("status", string(job.FinalStatus())))
	}
	logger.Error(ctx, "job failed with internal error", fields...)
	status := code.HTTPStatus()
	if status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	return status, response.ErrorBody(InternalErrorMessage)
}
