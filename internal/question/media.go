package question

import (
	"path"
	"strings"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaPDF   MediaKind = "pdf"
)

// Media is an attachment reference. The blob itself lives in the media store;
// only the path is kept here.
type Media struct {
	Kind MediaKind `json:"kind"`
	Path string    `json:"path"`
}

func (m *Media) validate() error {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case MediaImage, MediaAudio, MediaVideo, MediaPDF:
	default:
		return ErrInvalidMedia
	}
	if strings.TrimSpace(m.Path) == "" {
		return ErrInvalidMedia
	}
	return nil
}

func (m *Media) clone() *Media {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

var extKinds = map[string]MediaKind{
	"jpg": MediaImage, "jpeg": MediaImage, "png": MediaImage, "gif": MediaImage, "webp": MediaImage, "svg": MediaImage,
	"mp3": MediaAudio, "wav": MediaAudio, "ogg": MediaAudio, "m4a": MediaAudio,
	"mp4": MediaVideo, "webm": MediaVideo, "mov": MediaVideo,
	"pdf": MediaPDF,
}

// KindForPath derives the media kind from a file name's extension.
func KindForPath(p string) (MediaKind, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	k, ok := extKinds[ext]
	return k, ok
}
