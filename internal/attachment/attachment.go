// Package attachment stores files uploaded against a summary.
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/audit"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/ids"
	"matchbase.io/internal/obs"
)

var (
	ErrUnsupportedType = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAttachment, 1, "attachment.unsupported_type", "unsupported content type")
	ErrTooLarge        = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAttachment, 2, "attachment.too_large", "file too large")
	ErrMissingFile     = apperr.New(apperr.KindInvalidArgument, apperr.ComponentAttachment, 3, "attachment.missing_file", "file is empty")
)

// Attachment is the persisted metadata of an uploaded file.
type Attachment struct {
	ID          string    `json:"id"`
	SummaryID   string    `json:"summary_id"`
	Key         string    `json:"-"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url,omitempty"`
}

// Storage is the object store contract.
type Storage interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// MetadataStore persists attachment rows.
type MetadataStore interface {
	InsertAttachment(ctx context.Context, a Attachment) error
	AttachmentsBySummary(ctx context.Context, summaryID string) ([]Attachment, error)
}

// Authorizer decides whether a principal may read or write a summary's
// attachments.
type Authorizer interface {
	AuthorizeSummary(ctx context.Context, p auth.Principal, summaryID string, write bool) error
}

// Upload is one incoming file.
type Upload struct {
	FileName string
	Body     io.Reader
}

type Config struct {
	MaxBytes     int64
	ContentTypes []string
	PresignTTL   time.Duration
}

type Service struct {
	storage Storage
	meta    MetadataStore
	authz   Authorizer
	cfg     Config
	allowed map[string]bool
	now     func() time.Time
}

func NewService(storage Storage, meta MetadataStore, authz Authorizer, cfg Config) (*Service, error) {
	if storage == nil || meta == nil || authz == nil {
		return nil, errors.New("attachment: storage, metadata store and authorizer are required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	allowed := make(map[string]bool, len(cfg.ContentTypes))
	for _, ct := range cfg.ContentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = true
	}
	if len(allowed) == 0 {
		return nil, errors.New("attachment: at least one content type must be allowed")
	}
	return &Service{
		storage: storage,
		meta:    meta,
		authz:   authz,
		cfg:     cfg,
		allowed: allowed,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// MaxBytes is the per-file size limit.
func (s *Service) MaxBytes() int64 { return s.cfg.MaxBytes }

// Upload stores the file and records its metadata. The content type is
// sniffed from the bytes, not taken from the client.
func (s *Service) Upload(ctx context.Context, p auth.Principal, summaryID string, up Upload) (Attachment, error) {
	if err := s.authz.AuthorizeSummary(ctx, p, summaryID, true); err != nil {
		return Attachment{}, err
	}
	if up.Body == nil {
		return Attachment{}, ErrMissingFile
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return Attachment{}, apperr.Wrap(err, apperr.KindInternal, apperr.ComponentAttachment, 10, "internal", "read upload")
	}
	if len(data) == 0 {
		return Attachment{}, ErrMissingFile
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return Attachment{}, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	contentType := strings.SplitN(mt.String(), ";", 2)[0]
	if !s.allowed[contentType] {
		return Attachment{}, ErrUnsupportedType.With("ContentType", contentType)
	}

	id := ids.New()
	a := Attachment{
		ID:          id,
		SummaryID:   summaryID,
		Key:         fmt.Sprintf("summaries/%s/%s%s", summaryID, id, mt.Extension()),
		FileName:    sanitizeName(up.FileName),
		ContentType: contentType,
		Size:        int64(len(data)),
		UploadedBy:  p.UserID,
		CreatedAt:   s.now(),
	}
	if err := s.storage.Put(ctx, a.Key, bytes.NewReader(data), contentType); err != nil {
		return Attachment{}, apperr.Wrap(err, apperr.KindInternal, apperr.ComponentAttachment, 11, "internal", "store object")
	}
	if err := s.meta.InsertAttachment(ctx, a); err != nil {
		// The object has no row pointing at it; remove it or leave a trail.
		if derr := s.storage.Delete(context.WithoutCancel(ctx), a.Key); derr != nil {
			obs.Logger().Error("orphaned attachment object",
				zap.String("request_id", audit.RequestIDFromContext(ctx)),
				zap.String("key", a.Key),
				zap.Error(derr),
			)
		}
		return Attachment{}, apperr.Wrap(err, apperr.KindInternal, apperr.ComponentAttachment, 12, "internal", "persist attachment")
	}
	_ = audit.LogEvent(ctx, "attachment.uploaded", map[string]any{
		"summary_id":    summaryID,
		"attachment_id": a.ID,
		"content_type":  contentType,
		"size":          a.Size,
	})
	return a, nil
}

// List returns the summary's attachments with short-lived download URLs.
func (s *Service) List(ctx context.Context, p auth.Principal, summaryID string) ([]Attachment, error) {
	if err := s.authz.AuthorizeSummary(ctx, p, summaryID, false); err != nil {
		return nil, err
	}
	list, err := s.meta.AttachmentsBySummary(ctx, summaryID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, apperr.ComponentAttachment, 13, "internal", "load attachments")
	}
	for i := range list {
		url, err := s.storage.PresignGet(ctx, list[i].Key, s.cfg.PresignTTL)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInternal, apperr.ComponentAttachment, 14, "internal", "presign attachment")
		}
		list[i].URL = url
	}
	if list == nil {
		list = []Attachment{}
	}
	return list, nil
}

const maxNameBytes = 255

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	if len(name) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}
