package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"mediarepo/internal/middleware"
	"mediarepo/internal/repository"
	"mediarepo/internal/service"

	"github.com/go-chi/chi/v5"
)

// MediaHandler 提供客户端媒体上传与下载端点。
type MediaHandler struct {
	service       *service.MediaStorage
	serverName    string
	maxUploadSize int64
}

func NewMediaHandler(s *service.MediaStorage, serverName string, maxUploadSize int64) *MediaHandler {
	return &MediaHandler{service: s, serverName: serverName, maxUploadSize: maxUploadSize}
}

func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Route("/media", func(r chi.Router) {
		r.Post("/upload", h.UploadMedia)
		r.Get("/download/{mediaID}", h.DownloadMedia)
		r.Get("/", h.ListMedia)
	})
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// UploadMedia 接受原始请求体上传，内容类型取自 Content-Type 头。
func (h *MediaHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	defer body.Close()

	mediaType := r.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	uploadName := strings.TrimSpace(r.URL.Query().Get("filename"))
	userID := middleware.GetUserID(r.Context())

	mediaID, err := h.service.CreateContent(r.Context(), mediaType, uploadName, body, r.ContentLength, userID)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: map[string]string{
		"media_id":    mediaID,
		"content_uri": fmt.Sprintf("mxc://%s/%s", h.serverName, mediaID),
	}})
}

// DownloadMedia 以原始内容类型直接返回媒体字节。
func (h *MediaHandler) DownloadMedia(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	mediaID := chi.URLParam(r, "mediaID")
	if mediaID == "" {
		writeError(w, http.StatusBadRequest, "media id is required")
		return
	}

	record, err := h.service.GetMetadata(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load media metadata")
		return
	}

	responder, err := h.service.FetchLocalOrRemote(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve media content")
		return
	}
	defer responder.Close()

	// 长度以实际流出的字节为准，登记的长度仅是元数据
	w.Header().Set("Content-Type", record.MediaType)
	if record.UploadName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.UploadName))
	}

	if err := responder.Stream(w); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}

// ListMedia 返回当前上传者的媒体集合。
func (h *MediaHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	params := repository.ListMediaParams{
		UserID: middleware.GetUserID(r.Context()),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			params.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			params.Offset = offset
		}
	}

	records, err := h.service.ListMedia(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}
