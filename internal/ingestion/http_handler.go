package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/logging"
	"github.com/rpattn/feedimport/internal/queue"
	"github.com/rpattn/feedimport/internal/repository"
	"github.com/rpattn/feedimport/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	msgNoFile          = "No file provided"
	msgUnsupportedFile = "Only Excel (.xlsx) files are supported"
	msgEnqueueFailed   = "could not enqueue import job"
)

// UploadStore persists uploaded files until they are imported.
type UploadStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Remove(path string) error
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes import submission and job inspection over HTTP.
type Handler struct {
	jobs      repository.ImportJobRepository
	logs      repository.ImportLogRepository
	products  repository.ProductRepository
	store     UploadStore
	publisher queue.Publisher
	db        Pinger
	maxUpload int64
}

// HandlerConfig groups the Handler dependencies.
type HandlerConfig struct {
	Jobs           repository.ImportJobRepository
	Logs           repository.ImportLogRepository
	Products       repository.ProductRepository
	Store          UploadStore
	Publisher      queue.Publisher
	DB             Pinger
	MaxUploadBytes int64
}

// NewHTTPHandler creates the handler.
func NewHTTPHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		jobs:      cfg.Jobs,
		logs:      cfg.Logs,
		products:  cfg.Products,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		db:        cfg.DB,
		maxUpload: cfg.MaxUploadBytes,
	}
}

// Routes mounts the API on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/imports", h.submit)
		r.Get("/imports/{id}", h.getJob)
		r.Get("/imports/{id}/logs", h.listLogs)
		r.Get("/products/{sku}", h.getProduct)
	})
	return r
}

// submit stores the upload, creates a pending job and queues it. Processing is
// asynchronous; the response carries the pending job.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "invalid form data: "+err.Error())
			return
		}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	if err := ValidateFileName(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, msgUnsupportedFile)
		return
	}

	path, err := h.store.Save(r.Context(), header.Filename, file)
	if errors.Is(err, storage.ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err != nil {
		logger.Error("failed to store upload", "file", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job, err := h.jobs.Create(r.Context(), domain.NewImportJob(header.Filename, path))
	if err != nil {
		logger.Error("failed to create import job", "file", header.Filename, "error", err)
		if removeErr := h.store.Remove(path); removeErr != nil {
			logger.Warn("failed to remove orphaned upload", "path", path, "error", removeErr)
		}
		writeError(w, http.StatusInternalServerError, "failed to create import job")
		return
	}

	logger = logging.WithFields(r.Context(), "job_id", job.ID, "file", job.FileName)
	if err := h.publisher.Publish(r.Context(), job.ID); err != nil {
		logger.Error("failed to enqueue import job", "error", err)
		h.abandon(r.Context(), job.ID, err)
		writeError(w, http.StatusServiceUnavailable, msgEnqueueFailed)
		return
	}

	logger.Info("import job submitted")
	w.Header().Set("Location", "/api/imports/"+job.ID.String())
	writeJSON(w, http.StatusCreated, job)
}

// abandon fails a job that could not be queued so it does not stay pending forever.
func (h *Handler) abandon(ctx context.Context, jobID uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithFields(ctx, "job_id", jobID)
	if err := h.jobs.Fail(ctx, jobID); err != nil {
		logger.Error("failed to mark unqueued job failed", "error", err)
		return
	}
	entry := domain.JobError(jobID, "Processing failed: "+msgEnqueueFailed+": "+cause.Error())
	if err := h.logs.Append(ctx, entry); err != nil {
		logger.Error("failed to record enqueue failure", "error", err)
	}
}

type jobResponse struct {
	domain.ImportJob
	LogCount int                `json:"log_count"`
	Logs     []domain.ImportLog `json:"logs"`
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, r, "import job", err)
		return
	}

	logs, err := h.logs.List(r.Context(), jobID, limit, offset)
	if err != nil {
		h.writeLookupError(w, r, "import logs", err)
		return
	}
	count, err := h.logs.Count(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, r, "import logs", err)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{ImportJob: job, LogCount: count, Logs: logs})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	if _, err := h.jobs.GetByID(r.Context(), jobID); err != nil {
		h.writeLookupError(w, r, "import job", err)
		return
	}
	logs, err := h.logs.List(r.Context(), jobID, limit, offset)
	if err != nil {
		h.writeLookupError(w, r, "import logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	product, err := h.products.GetBySKU(r.Context(), sku)
	if err != nil {
		h.writeLookupError(w, r, "product", err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	logging.FromContext(r.Context()).Error("lookup failed", "resource", what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import job id")
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads limit and offset; absent values are left to the repository defaults.
func parsePage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	query := r.URL.Query()
	limit, offset := 0, 0
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return 0, 0, false
		}
		*dst = value
	}
	return limit, offset, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
