package http

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	"github.com/mind-engage/mindengage-qbank/internal/question"
	"github.com/mind-engage/mindengage-qbank/internal/rbac"
	"github.com/mind-engage/mindengage-qbank/internal/storage"
)

type mediaResp struct {
	Kind question.MediaKind `json:"kind"`
	Path string             `json:"path"`
	URL  string             `json:"url,omitempty"`
}

// POST /media  multipart: file -> {path, kind, url}
func UploadMediaHandler(bs storage.BlobStore, maxBytes int64, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "file", "file required")
			return
		}
		defer f.Close()
		kind, ok := question.KindForPath(hdr.Filename)
		if !ok {
			badRequest(w, "file", question.ErrInvalidMedia.Error())
			return
		}
		if hdr.Size > maxBytes {
			badRequest(w, "file", "file too large")
			return
		}
		key, err := bs.Put(r.Context(), storage.NewKey(path.Join("media", actor(r).TenantID), hdr.Filename),
			f, hdr.Size, hdr.Header.Get("Content-Type"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		u, err := bs.SignedURL(r.Context(), key)
		if err != nil {
			log.Warn("signed url", zap.String("key", key), zap.Error(err))
		}
		writeJSON(w, http.StatusCreated, mediaResp{Kind: kind, Path: key, URL: u})
	}
}

// GET /media/*  streams the blob at whatever follows /media/. Keys are
// media/{tenant}/... for question media and attempts/{attemptID}/... for
// answer files; both are resolved within the caller's tenant. Authors read
// any media of their tenant; learners read question media only through an
// attempt of theirs whose snapshot uses it (?attempt={id}).
func GetMediaHandler(bs storage.BlobStore, svc *attempt.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := storage.CleanKey(strings.TrimPrefix(chi.URLParam(r, "*"), "/"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		who := actor(r)
		parts := strings.SplitN(key, "/", 3)
		switch {
		case len(parts) == 3 && parts[0] == "media" && parts[1] == who.TenantID:
			if who.Can(rbac.PermQuestionView) {
				break
			}
			id := r.URL.Query().Get("attempt")
			if id == "" {
				writeError(w, r, log, storage.ErrNotFound)
				return
			}
			a, err := svc.Get(r.Context(), who, id)
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			if !a.UsesMedia(key) {
				writeError(w, r, log, storage.ErrNotFound)
				return
			}
		case len(parts) == 3 && parts[0] == "attempts":
			if _, err := svc.Get(r.Context(), who, parts[1]); err != nil {
				writeError(w, r, log, err)
				return
			}
		default:
			writeError(w, r, log, storage.ErrNotFound)
			return
		}
		rc, err := bs.Get(r.Context(), key)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	}
}
