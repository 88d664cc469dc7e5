package attachment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"matchbase.io/internal/auth"
)

type fakeAuthz struct {
	err   error
	write []bool
}

func (f *fakeAuthz) AuthorizeSummary(_ context.Context, _ auth.Principal, _ string, write bool) error {
	f.write = append(f.write, write)
	return f.err
}

var pdf = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func newService(t *testing.T, authz Authorizer, max int64) (*Service, *MemoryStorage) {
	t.Helper()
	storage := NewMemoryStorage()
	svc, err := NewService(storage, NewMemoryMetadata(), authz, Config{
		MaxBytes:     max,
		ContentTypes: []string{"application/pdf", "image/png"},
		PresignTTL:   time.Minute,
	})
	require.NoError(t, err)
	return svc, storage
}

func TestUploadAndList(t *testing.T) {
	authz := &fakeAuthz{}
	svc, storage := newService(t, authz, 1<<20)
	p := auth.Principal{UserID: "u1", Role: auth.RoleCompany, CompanyID: "c1"}

	a, err := svc.Upload(context.Background(), p, "s1", Upload{FileName: "../../deck.pdf", Body: bytes.NewReader(pdf)})
	require.NoError(t, err)
	require.Equal(t, "application/pdf", a.ContentType)
	require.Equal(t, "deck.pdf", a.FileName)
	require.True(t, strings.HasPrefix(a.Key, "summaries/s1/"))
	require.True(t, strings.HasSuffix(a.Key, ".pdf"))

	stored, ok := storage.Object(a.Key)
	require.True(t, ok)
	require.Equal(t, pdf, stored)

	list, err := svc.List(context.Background(), p, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Contains(t, list[0].URL, a.Key)
	require.Equal(t, []bool{true, false}, authz.write)
}

func TestUploadRejections(t *testing.T) {
	p := auth.Principal{UserID: "u1", Role: auth.RoleAdmin}

	cases := []struct {
		name string
		body []byte
		max  int64
		want error
	}{
		{"empty", nil, 1 << 20, ErrMissingFile},
		{"plain text", []byte("just some text"), 1 << 20, ErrUnsupportedType},
		{"too large", pdf, 10, ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newService(t, &fakeAuthz{}, tc.max)
			_, err := svc.Upload(context.Background(), p, "s1", Upload{FileName: "x", Body: bytes.NewReader(tc.body)})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUploadRequiresWriteAccess(t *testing.T) {
	denied := errors.New("denied")
	svc, _ := newService(t, &fakeAuthz{err: denied}, 1<<20)
	_, err := svc.Upload(context.Background(), auth.Principal{}, "s1", Upload{Body: bytes.NewReader(pdf)})
	require.ErrorIs(t, err, denied)
	_, err = svc.List(context.Background(), auth.Principal{}, "s1")
	require.ErrorIs(t, err, denied)
}

type failingMetadata struct{ *MemoryMetadata }

func (failingMetadata) InsertAttachment(context.Context, Attachment) error {
	return errors.New("db down")
}

func TestUploadRemovesObjectWhenMetadataFails(t *testing.T) {
	storage := NewMemoryStorage()
	svc, err := NewService(storage, failingMetadata{NewMemoryMetadata()}, &fakeAuthz{}, Config{
		ContentTypes: []string{"application/pdf"},
	})
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), auth.Principal{UserID: "u1", Role: auth.RoleAdmin}, "s1", Upload{FileName: "deck.pdf", Body: bytes.NewReader(pdf)})
	require.Error(t, err)

	storage.mu.RLock()
	defer storage.mu.RUnlock()
	require.Empty(t, storage.objects)
}

func TestSanitizeNameKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("資", 100) + ".pdf"
	got := sanitizeName(long)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), 255)
	require.Equal(t, strings.Repeat("資", 85), got)

	require.Equal(t, "file", sanitizeName("  "))
	require.Equal(t, "deck.pdf", sanitizeName(`C:\Users\me\deck.pdf`))
}

func TestS3PresignGet(t *testing.T) {
	s, err := NewS3Storage(S3Config{
		Endpoint:  "http://localhost:9000",
		Region:    "ap-northeast-1",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "attachments",
	})
	require.NoError(t, err)

	url, err := s.PresignGet(context.Background(), "summaries/s1/a.pdf", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:9000/attachments/summaries/s1/a.pdf?"), url)
	require.Contains(t, url, "X-Amz-Signature=")
	require.Contains(t, url, "X-Amz-Expires=300")
}
