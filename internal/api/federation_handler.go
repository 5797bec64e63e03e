package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"mediarepo/internal/repository"
	"mediarepo/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Matrix 风格的协议错误码。禁用与不存在在形状上不可区分，
// 客户端无法推断某个标识是否曾经存在。
const (
	errcodeNotFound     = "M_NOT_FOUND"
	errcodeUnrecognized = "M_UNRECOGNIZED"
	errcodeUnknown      = "M_UNKNOWN"
)

// FederationHandler 以两段式 multipart 封包向对端服务器交付媒体。
// enabled 由配置开关与后端链完整性共同决定：任一不满足时端点整体
// 降级为 M_UNRECOGNIZED，而不是半开状态。
type FederationHandler struct {
	service *service.MediaStorage
	enabled bool
	logger  *zap.Logger
}

func NewFederationHandler(s *service.MediaStorage, enabled bool, logger *zap.Logger) *FederationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FederationHandler{service: s, enabled: enabled, logger: logger}
}

func (h *FederationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/federation/v1/media/download/{mediaID}", h.DownloadMedia)
}

// DownloadMedia 实现联邦媒体下载：特性门控 → 解析 → 编码 → 流式输出。
func (h *FederationHandler) DownloadMedia(w http.ResponseWriter, r *http.Request) {
	if h == nil || !h.enabled {
		writeErrcode(w, http.StatusNotFound, errcodeUnrecognized)
		return
	}

	mediaID := chi.URLParam(r, "mediaID")
	if mediaID == "" {
		writeErrcode(w, http.StatusNotFound, errcodeNotFound)
		return
	}

	record, err := h.service.GetMetadata(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeErrcode(w, http.StatusNotFound, errcodeNotFound)
			return
		}
		h.logger.Error("读取媒体元数据失败", zap.String("media_id", mediaID), zap.Error(err))
		writeErrcode(w, http.StatusInternalServerError, errcodeUnknown)
		return
	}

	responder, err := h.service.FetchLocalOrRemote(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeErrcode(w, http.StatusNotFound, errcodeNotFound)
			return
		}
		h.logger.Error("解析媒体内容失败", zap.String("media_id", mediaID), zap.Error(err))
		writeErrcode(w, http.StatusInternalServerError, errcodeUnknown)
		return
	}
	defer responder.Close()

	// multipart.Writer 自带足够随机的 boundary，不会与内容字节冲突
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)

	// 第一部分：JSON 元数据。当前协议版本固定为空对象，
	// 字段留待后续协议修订，这里不发明任何内容。
	jsonPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json"},
	})
	if err != nil {
		h.logger.Warn("写入元数据部分失败", zap.String("media_id", mediaID), zap.Error(err))
		return
	}
	if _, err := jsonPart.Write([]byte("{}")); err != nil {
		return
	}

	// 第二部分：原始内容，内容类型沿用上传时声明的类型
	contentPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {record.MediaType},
	})
	if err != nil {
		h.logger.Warn("写入内容部分失败", zap.String("media_id", mediaID), zap.Error(err))
		return
	}
	if err := responder.Stream(contentPart); err != nil {
		// 客户端断开时中途失败，defer 的 Close 仍会释放资源
		return
	}

	_ = mw.Close()
}

type errcodeEnvelope struct {
	Errcode string `json:"errcode"`
}

func writeErrcode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errcodeEnvelope{Errcode: code})
}
