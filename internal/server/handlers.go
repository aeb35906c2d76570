package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/brandtune/songforge-api/internal/apperrors"
	"github.com/brandtune/songforge-api/internal/muse"
	"github.com/brandtune/songforge-api/internal/orchestrator"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *orchestrator.Service
	status    *orchestrator.StatusService
	client    muse.Client
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *orchestrator.Service, status *orchestrator.StatusService, client muse.Client, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		status:    status,
		client:    client,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSong handles POST /songs requests. The song is created in PENDING
// state; generation starts only on an explicit generate call.
func (h *Handlers) CreateSong(w http.ResponseWriter, r *http.Request) {
	var req CreateSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	rec, err := h.service.CreateSong(r.Context(), orchestrator.CreateSongInput{
		Title:            req.Title,
		Style:            req.Style,
		BrandName:        req.BrandName,
		BrandDescription: req.BrandDescription,
		Lyrics:           req.Lyrics,
	})
	if err != nil {
		h.logger.Error("failed to create song",
			slog.String("error", err.Error()),
		)
		writeAppError(w, err)
		return
	}

	h.logger.Info("song created",
		slog.String("song_id", rec.ID),
		slog.String("brand", req.BrandName),
	)

	writeJSON(w, http.StatusCreated, CreateSongResponse{
		ID:     rec.ID,
		Status: string(rec.Status),
	})
}

// GenerateSong handles POST /songs/{id}/generate requests. Submission is
// synchronous; the generation itself completes in the background.
func (h *Handlers) GenerateSong(w http.ResponseWriter, r *http.Request) {
	songID := r.PathValue("id")
	if songID == "" {
		writeError(w, http.StatusBadRequest, "song ID is required", "MISSING_SONG_ID")
		return
	}

	taskID, err := h.service.Submit(r.Context(), songID)
	if err != nil {
		h.logger.Warn("generation submission rejected",
			slog.String("song_id", songID),
			slog.String("error", err.Error()),
		)
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		ID:     songID,
		TaskID: taskID,
		Status: "PROCESSING",
	})
}

// GetSong handles GET /songs/{id} requests. The fast query parameter
// selects the cheap persisted-state read used for high-frequency polling.
func (h *Handlers) GetSong(w http.ResponseWriter, r *http.Request) {
	songID := r.PathValue("id")
	if songID == "" {
		writeError(w, http.StatusBadRequest, "song ID is required", "MISSING_SONG_ID")
		return
	}

	fast, _ := strconv.ParseBool(r.URL.Query().Get("fast"))

	view, err := h.status.GetStatus(r.Context(), songID, fast)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Error("failed to get song status",
				slog.String("song_id", songID),
				slog.String("error", err.Error()),
			)
		}
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(view))
}

// ListSongs handles GET /songs requests.
func (h *Handlers) ListSongs(w http.ResponseWriter, r *http.Request) {
	views, err := h.status.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list songs",
			slog.String("error", err.Error()),
		)
		writeAppError(w, err)
		return
	}

	resp := ListSongsResponse{Songs: make([]SongStatusResponse, 0, len(views))}
	for _, view := range views {
		resp.Songs = append(resp.Songs, toStatusResponse(view))
	}
	writeJSON(w, http.StatusOK, resp)
}

// MuseCallback handles POST /callbacks/muse requests from the provider.
// The provider is always acked with 200: a non-2xx answer triggers
// provider-side redelivery, and every failure mode here is covered by
// polling and the expiry sweeper anyway.
func (h *Handlers) MuseCallback(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("undecodable provider callback acked and dropped",
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.service.HandleCallback(r.Context(), payload)
	w.WriteHeader(http.StatusOK)
}

// Credits handles GET /credits requests, proxying the provider's credit
// balance. The balance is best-effort: a failed fetch reports unknown
// rather than an error.
func (h *Handlers) Credits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.client.FetchCredits(r.Context())
	if err != nil {
		h.logger.Warn("credit balance fetch failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, CreditsResponse{})
		return
	}

	writeJSON(w, http.StatusOK, CreditsResponse{Credits: &credits, Known: true})
}

// toStatusResponse maps a status view to its response DTO.
func toStatusResponse(view orchestrator.StatusView) SongStatusResponse {
	resp := SongStatusResponse{
		ID:                  view.SongID,
		Status:              string(view.State),
		Message:             view.Message,
		Progress:            view.Progress,
		AudioURL:            view.AudioURL,
		ImageURL:            view.ImageURL,
		ArchiveURL:          view.ArchiveURL,
		DurationSeconds:     view.DurationSeconds,
		Error:               view.ErrorMessage,
		PollIntervalSeconds: view.PollIntervalSeconds,
	}
	if view.PollIntervalSeconds > 0 && !view.PollExpiresAt.IsZero() {
		expires := view.PollExpiresAt
		resp.PollExpiresAt = &expires
	}
	return resp
}

// errorCode maps an application error to its machine-readable code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, apperrors.ErrNotFound):
		return "SONG_NOT_FOUND"
	case errors.Is(err, apperrors.ErrAlreadyInProgress):
		return "ALREADY_IN_PROGRESS"
	case errors.Is(err, apperrors.ErrPreconditionFailed):
		return "PRECONDITION_FAILED"
	case errors.Is(err, apperrors.ErrProviderBadRequest):
		return "PROVIDER_REJECTED"
	case errors.Is(err, apperrors.ErrProviderUnauthorized):
		return "PROVIDER_UNAUTHORIZED"
	case errors.Is(err, apperrors.ErrProviderTransient), errors.Is(err, apperrors.ErrTimeout):
		return "PROVIDER_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// writeAppError writes an application error using its HTTP status mapping.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		message = "internal server error"
	}
	writeError(w, status, message, errorCode(err))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
