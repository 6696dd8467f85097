package controller

import (
	"context"
	"net/http"

	"nextgen/internal/execution/model"
	"nextgen/internal/execution/service"
	"nextgen/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Runner is the execution surface the controller depends on.
type Runner interface {
	Run(ctx context.Context, req model.RunRequest) (int, response.Body)
	Languages(ctx context.Context) []service.LanguageInfo
	Stats() (inflight, queued int64)
}

// RunController handles the code execution endpoints.
type RunController struct {
	runner       Runner
	maxBodyBytes int64
}

// NewRunController creates a new controller. maxBodyBytes caps the request
// body read from the wire; zero disables the cap.
func NewRunController(runner Runner, maxBodyBytes int64) *RunController {
	return &RunController{runner: runner, maxBodyBytes: maxBodyBytes}
}

// Run compiles and executes the submitted code.
func (h *RunController) Run(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	status, body := h.runner.Run(c.Request.Context(), req)
	response.JSON(c, status, body)
}

// Languages lists accepted languages.
func (h *RunController) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.runner.Languages(c.Request.Context())})
}

// Health reports liveness and admission counters.
func (h *RunController) Health(c *gin.Context) {
	inflight, queued := h.runner.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "inflight": inflight, "queued": queued})
}
