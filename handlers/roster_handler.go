package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/roster-checkin/middleware"
	"github.com/upb/roster-checkin/models"
	"github.com/upb/roster-checkin/services/importer"
	"github.com/upb/roster-checkin/utils"
	"go.uber.org/zap"
)

const (
	csvContentType = "text/csv"
	uploadField    = "file"
	exportFilename = "data.csv"

	// multipartOverhead leaves room for boundaries and part headers
	multipartOverhead = 1 << 20
)

// ImportService imports CSV batches
type ImportService interface {
	Import(ctx context.Context, r io.Reader) (*importer.Result, error)
}

// CheckInService drives the per-participant check-in state machine
type CheckInService interface {
	CheckIn(ctx context.Context, id string) (time.Time, error)
	Reset(ctx context.Context, target string) (int64, error)
}

// ExportService writes roster snapshots
type ExportService interface {
	WriteSnapshot(ctx context.Context, w io.Writer) (int, error)
}

// ImportResponse is the body of a successful upload
type ImportResponse struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// CheckInResponse is the body of a successful check-in
type CheckInResponse struct {
	Time string `json:"time"`
}

// ResetResponse is the body of a successful reset
type ResetResponse struct {
	Rows int64 `json:"rows"`
}

// RosterHandler serves roster import, export, check-in and reset
type RosterHandler struct {
	importer  ImportService
	checkIns  CheckInService
	exporter  ExportService
	maxUpload int64
	logger    *zap.Logger
}

// NewRosterHandler creates a new RosterHandler; maxUpload bounds the CSV payload
func NewRosterHandler(imp ImportService, checkIns CheckInService, exp ExportService, maxUpload int64, logger *zap.Logger) *RosterHandler {
	return &RosterHandler{
		importer:  imp,
		checkIns:  checkIns,
		exporter:  exp,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// HandleRoot handles GET /
func (h *RosterHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "ok"})
}

// HandleImport handles POST /data
// Accepts a multipart form with a CSV "file" part, or a raw text/csv body
func (h *RosterHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	body, closeBody, err := h.csvPayload(w, r)
	if err != nil {
		h.logger.Warn("rejected upload",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	defer closeBody()

	result, err := h.importer.Import(ctx, body)
	if err != nil {
		h.logger.Warn("import failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse{
		Message: "ok",
		Data:    ImportResponse{Rows: result.Rows, Skipped: result.Skipped},
	}); err != nil {
		h.logger.Error("failed to write response", zap.String("request_id", requestID), zap.Error(err))
	}
}

// HandleExport handles GET /data
// The snapshot is buffered so a storage failure still yields a JSON error
func (h *RosterHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	rows, err := h.exporter.WriteSnapshot(r.Context(), &buf)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", csvContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exportFilename}))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("failed to write export",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Int("rows", rows),
			zap.Error(err))
	}
}

// HandleCheckIn handles POST /check-in/{id}
func (h *RosterHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	at, err := h.checkIns.CheckIn(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, CheckInResponse{Time: models.FormatTimestamp(at, nil)})
}

// HandleReset handles POST /reset/{id}; the id "all" resets every participant
func (h *RosterHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "id")

	n, err := h.checkIns.Reset(r.Context(), target)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ResetResponse{Rows: n})
}

var errNotCSV = errors.New("file must be a CSV")

// csvPayload locates the CSV bytes of an upload
func (h *RosterHandler) csvPayload(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, errNotCSV
	}

	switch {
	case mediaType == csvContentType:
		if h.maxUpload > 0 {
			return http.MaxBytesReader(w, r.Body, h.maxUpload+1), func() {}, nil
		}
		return r.Body, func() {}, nil

	case strings.HasPrefix(mediaType, "multipart/"):
		if h.maxUpload > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
		}
		file, header, err := r.FormFile(uploadField)
		if err != nil {
			return nil, nil, errors.New("missing upload field \"file\"")
		}
		partType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
		if err != nil || partType != csvContentType {
			file.Close()
			return nil, nil, errNotCSV
		}
		return file, func() {
			file.Close()
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}, nil

	default:
		return nil, nil, errNotCSV
	}
}
