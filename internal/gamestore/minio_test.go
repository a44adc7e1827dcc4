package gamestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const listResult = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>games</Name><Prefix>party/</Prefix><KeyCount>3</KeyCount><MaxKeys>1000</MaxKeys><Delimiter>/</Delimiter><IsTruncated>false</IsTruncated>
<Contents><Key>party/pong.html</Key><LastModified>2026-01-02T03:04:05.000Z</LastModified><ETag>"a"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>party/notes.txt</Key><LastModified>2026-01-02T03:04:05.000Z</LastModified><ETag>"b"</ETag><Size>3</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>party/air-hockey.html</Key><LastModified>2026-01-03T03:04:05.000Z</LastModified><ETag>"c"</ETag><Size>12</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

const accessDenied = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied.</Message><BucketName>games</BucketName><Resource>/games</Resource><RequestId>1</RequestId></Error>`

// fakeS3 answers every request with one canned response and never keeps
// connections alive.
func fakeS3(t *testing.T, status int, body string) (*MinioStore, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cli, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("key", "secret", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return &MinioStore{client: cli, bucket: "games", prefix: "party/"}, srv
}

func TestMinioStore_List(t *testing.T) {
	s, _ := fakeS3(t, http.StatusOK, listResult)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "air-hockey.html", entries[0].Name)
	assert.Equal(t, "pong.html", entries[1].Name)
	assert.Equal(t, 2026, entries[1].ModTime.Year())
}

func TestMinioStore_ListErrorStopsListing(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	s, srv := fakeS3(t, http.StatusForbidden, accessDenied)
	_, err := s.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list bucket games")

	srv.Close()
	goleak.VerifyNone(t, ignore,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func TestMinioStore_RejectsPathNames(t *testing.T) {
	s := &MinioStore{bucket: "games"}
	assert.Error(t, s.Put(context.Background(), "../x.html", []byte("x")))
	_, err := s.Get(context.Background(), "a/b.html")
	assert.Error(t, err)
}
