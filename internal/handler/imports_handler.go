package handler

import (
	"fmt"
	"net/http"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/port"
	"github.com/mcravero/statement-ingest/internal/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// 1. Statement imports
// ============================================================

type processAcceptedResponse struct {
	TaskID   string `json:"task_id"`
	ImportID string `json:"import_id"`
	Status   string `json:"status"`
}

// processImportHandler enqueues the extraction pipeline for a pending
// import. The pending check here is advisory; the pipeline claims the
// row atomically before doing any work.
func processImportHandler(store port.ImportStore, runner *tasks.Runner, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/statement-imports/{importID}/process")
		defer span.End()

		importID := chi.URLParam(r, "importID")
		if importID == "" {
			writeError(w, http.StatusBadRequest, "import_id is required")
			return
		}
		span.SetAttributes(attribute.String("import.id", importID))

		imp, err := store.GetStatementImport(ctx, importID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		// A foreign import reads as absent.
		if imp == nil || imp.UserID != UserIDFromContext(ctx) {
			writeError(w, http.StatusNotFound, "statement import not found")
			return
		}
		if imp.Status != domain.ImportStatusPending {
			writeError(w, http.StatusConflict, fmt.Sprintf("statement import is %s, not pending", imp.Status))
			return
		}

		task, err := runner.Enqueue(importID, middleware.GetReqID(ctx))
		if err != nil {
			logger.Warn("enqueue rejected",
				zap.String("import_id", importID),
				zap.Error(err),
			)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		logger.Info("import queued for processing",
			zap.String("import_id", importID),
			zap.String("task_id", task.ID),
		)

		writeJSON(w, http.StatusAccepted, processAcceptedResponse{
			TaskID:   task.ID,
			ImportID: importID,
			Status:   string(task.Status),
		})
	}
}

func getImportHandler(store port.ImportStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/statement-imports/{importID}")
		defer span.End()

		importID := chi.URLParam(r, "importID")
		imp, err := store.GetStatementImport(ctx, importID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if imp == nil || imp.UserID != UserIDFromContext(ctx) {
			writeError(w, http.StatusNotFound, "statement import not found")
			return
		}
		writeJSON(w, http.StatusOK, imp)
	}
}

func listImportsHandler(store port.ImportStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/statement-imports")
		defer span.End()

		page, pageSize := parsePagination(r)
		imports, err := store.ListStatementImports(ctx, UserIDFromContext(ctx), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if imports == nil {
			imports = []domain.StatementImport{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"imports":   imports,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

// ============================================================
// 2. Background tasks
// ============================================================

func getTaskHandler(runner *tasks.Runner, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/tasks/{taskID}")
		defer span.End()

		taskID := chi.URLParam(r, "taskID")
		task, ok := runner.Get(taskID)
		if !ok {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// ============================================================
// 3. Pipeline metrics
// ============================================================

func pipelineMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.PipelineSnapshot()
		writeJSON(w, http.StatusOK, snapshot)
	}
}
