// Package media serves chat attachments stored in GridFS and accepts uploads.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/dbmongo"
)

// Storage is the slice of dbmongo.MediaStorage the server uses.
type Storage interface {
	UploadFile(ctx context.Context, filename, mimeType string, uploaderID int64, content io.Reader) (*dbmongo.MediaFile, error)
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, *dbmongo.MediaFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// sniffLen is how much of an upload http.DetectContentType looks at.
const sniffLen = 512

type HTTPServer struct {
	storage   Storage
	baseURL   string
	maxUpload int64
	log       *zap.Logger
}

type uploadResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileType string `json:"fileType"`
	Size     int64  `json:"size"`
}

func NewHTTPServer(storage Storage, cfg *config.Config, log *zap.Logger) *HTTPServer {
	maxUpload := cfg.Chat.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &HTTPServer{
		storage:   storage,
		baseURL:   strings.TrimRight(cfg.Server.MediaBaseURL, "/"),
		maxUpload: maxUpload,
		log:       log.Named("media"),
	}
}

// RegisterPublic mounts GET /media/{fileId}.
func (s *HTTPServer) RegisterPublic(r *mux.Router) {
	r.HandleFunc("/media/{fileId}", s.serveFile).Methods(http.MethodGet)
}

// RegisterUpload mounts POST /chat/media and DELETE /chat/media/{fileId} on
// an authenticated router.
func (s *HTTPServer) RegisterUpload(r *mux.Router) {
	r.HandleFunc("/chat/media", s.upload).Methods(http.MethodPost)
	r.HandleFunc("/chat/media/{fileId}", s.deleteFile).Methods(http.MethodDelete)
}

func (s *HTTPServer) serveFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	fileReader, mediaFile, err := s.storage.DownloadFile(r.Context(), fileID)
	if err != nil {
		if common.HTTPStatus(err) == http.StatusInternalServerError {
			s.log.Error("open media failed", zap.String("file_id", fileID), zap.Error(err))
		}
		common.WriteError(w, err)
		return
	}
	defer fileReader.Close()

	contentType := mediaFile.MimeType
	if contentType == "" {
		contentType = s.getContentType(mediaFile.Filename)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", mediaFile.Size))
	w.Header().Set("Cache-Control", "private, max-age=86400")

	if _, err := io.Copy(w, fileReader); err != nil {
		s.log.Warn("streaming media interrupted", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (s *HTTPServer) upload(w http.ResponseWriter, r *http.Request) {
	uid, ok := common.UserIDFromContext(r.Context())
	if !ok {
		common.WriteError(w, common.ErrUnauthenticated)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteError(w, common.Invalid("file exceeds %d bytes", s.maxUpload))
			return
		}
		common.WriteError(w, common.Invalid("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		common.WriteError(w, fmt.Errorf("read upload: %w", err))
		return
	}
	head = head[:n]
	mimeType := http.DetectContentType(head)
	if !common.DetectFileType(mimeType).IsValid() {
		s.log.Debug("upload rejected by content sniffing",
			zap.Int64("user_id", uid),
			zap.String("declared", header.Header.Get("Content-Type")),
			zap.String("detected", mimeType),
		)
		common.WriteError(w, common.Invalid("unsupported media type %q", mimeType))
		return
	}

	content := io.MultiReader(bytes.NewReader(head), file)
	stored, err := s.storage.UploadFile(r.Context(), filepath.Base(header.Filename), mimeType, uid, content)
	if err != nil {
		if common.HTTPStatus(err) == http.StatusInternalServerError {
			s.log.Error("store media failed", zap.Int64("user_id", uid), zap.Error(err))
		}
		common.WriteError(w, err)
		return
	}

	s.log.Info("media uploaded",
		zap.String("file_id", stored.ID),
		zap.Int64("user_id", uid),
		zap.Int64("size", stored.Size),
	)
	common.WriteJSON(w, http.StatusCreated, uploadResponse{
		ID:       stored.ID,
		URL:      s.baseURL + "/" + stored.ID,
		FileType: stored.FileType.String(),
		Size:     stored.Size,
	})
}

// deleteFile removes an attachment of the caller. Files uploaded by someone
// else are reported as missing.
func (s *HTTPServer) deleteFile(w http.ResponseWriter, r *http.Request) {
	uid, ok := common.UserIDFromContext(r.Context())
	if !ok {
		common.WriteError(w, common.ErrUnauthenticated)
		return
	}
	fileID := mux.Vars(r)["fileId"]

	reader, mediaFile, err := s.storage.DownloadFile(r.Context(), fileID)
	if err == nil {
		_ = reader.Close()
		if mediaFile.UploadedBy != uid {
			err = fmt.Errorf("file %s of another user: %w", fileID, common.ErrNotFound)
		}
	}
	if err == nil {
		err = s.storage.DeleteFile(r.Context(), fileID)
	}
	if err != nil {
		if common.HTTPStatus(err) == http.StatusInternalServerError {
			s.log.Error("delete media failed", zap.String("file_id", fileID), zap.Error(err))
		}
		common.WriteError(w, err)
		return
	}

	s.log.Info("media deleted", zap.String("file_id", fileID), zap.Int64("user_id", uid))
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) getContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
