package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

// tusServer is a minimal resumable-upload endpoint for tests. failAt
// makes the nth PATCH fail once with a 500 after discarding the body, to
// exercise resume from the committed offset.
type tusServer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	length   int64
	patches  int
	failAt   int
	failed   bool
	signHits int
}

func (s *tusServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/resumable", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.length, _ = strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		w.Header().Set("Location", "http://"+r.Host+"/upload/resumable/xfer-1")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/upload/resumable/xfer-1", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Upload-Offset", strconv.FormatInt(int64(s.buf.Len()), 10))
			w.WriteHeader(http.StatusOK)
		case http.MethodPatch:
			s.patches++
			body, _ := io.ReadAll(r.Body)
			if s.failAt > 0 && s.patches == s.failAt && !s.failed {
				s.failed = true
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			if offset != int64(s.buf.Len()) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			s.buf.Write(body)
			w.Header().Set("Upload-Offset", strconv.FormatInt(int64(s.buf.Len()), 10))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/object/sign/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.signHits++
		s.mu.Unlock()
		fmt.Fprintf(w, `{"signedURL":"https://storage.example%s?token=sig"}`, r.URL.Path)
	})
	return mux
}

func testClient(t *testing.T, srv *tusServer, chunkSize int64) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return NewClient(Options{
		Endpoint:    ts.URL,
		Bucket:      "chat-media",
		Token:       "secret",
		ChunkSize:   chunkSize,
		RetryDelays: []time.Duration{0, 0, 0},
	}), ts
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestUploadChunked(t *testing.T) {
	srv := &tusServer{}
	client, _ := testClient(t, srv, 16)

	data := payload(50)
	var reports []Progress
	err := client.Upload(context.Background(), models.TempID(10, 1), 1, "public/a.bin", "application/octet-stream",
		bytes.NewReader(data), int64(len(data)), func(p Progress) { reports = append(reports, p) })
	require.NoError(t, err)

	assert.Equal(t, data, srv.buf.Bytes())
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(50), reports[len(reports)-1].BytesSent)
	assert.Equal(t, 4, srv.patches)
}

func TestUploadResumesFromCommittedOffset(t *testing.T) {
	srv := &tusServer{failAt: 3}
	client, _ := testClient(t, srv, 16)

	data := payload(50)
	err := client.Upload(context.Background(), models.TempID(10, 2), 1, "public/b.bin", "application/octet-stream",
		bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)

	// The failed chunk is re-sent from offset 32, never from zero.
	assert.Equal(t, data, srv.buf.Bytes())
	assert.Equal(t, 5, srv.patches)
}

func TestUploadRetriesExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(Options{
		Endpoint:    ts.URL,
		Bucket:      "chat-media",
		ChunkSize:   16,
		RetryDelays: []time.Duration{0, 0},
	})

	data := payload(10)
	err := client.Upload(context.Background(), models.TempID(10, 3), 1, "public/c.bin", "application/octet-stream",
		bytes.NewReader(data), int64(len(data)), nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestUploadCancel(t *testing.T) {
	release := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upload/resumable" {
			w.Header().Set("Location", "http://"+r.Host+"/upload/resumable/xfer-1")
			w.WriteHeader(http.StatusCreated)
			return
		}
		once.Do(func() { close(release) })
		// Drain the body so the server notices the client abort; unblock
		// guarantees the handler returns before Close either way.
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	defer ts.Close()
	defer close(unblock)

	client := NewClient(Options{
		Endpoint:    ts.URL,
		Bucket:      "chat-media",
		ChunkSize:   16,
		RetryDelays: []time.Duration{0},
	})

	msgID := models.TempID(10, 4)
	data := payload(64)
	done := make(chan error, 1)
	go func() {
		done <- client.Upload(context.Background(), msgID, 9, "public/d.bin", "application/octet-stream",
			bytes.NewReader(data), int64(len(data)), nil)
	}()

	<-release
	client.CancelConversation(9)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not stop after cancellation")
	}

	_, ok := client.Progress(msgID)
	assert.False(t, ok)
}

func TestProgressWhileInFlight(t *testing.T) {
	srv := &tusServer{}
	client, _ := testClient(t, srv, 16)

	msgID := models.TempID(10, 5)
	data := payload(32)
	var mid Progress
	err := client.Upload(context.Background(), msgID, 1, "public/e.bin", "application/octet-stream",
		bytes.NewReader(data), int64(len(data)), func(p Progress) {
			if p.BytesSent == 16 {
				mid, _ = client.Progress(msgID)
			}
		})
	require.NoError(t, err)
	assert.Equal(t, Progress{BytesSent: 16, BytesTotal: 32}, mid)
}

func TestSign(t *testing.T) {
	srv := &tusServer{}
	client, _ := testClient(t, srv, 16)

	signed, err := client.Sign(context.Background(), "public/a.jpg")
	require.NoError(t, err)
	assert.Contains(t, signed.URL, "/object/sign/chat-media/public/a.jpg")
	assert.True(t, signed.ExpiresAt.After(time.Now()))
	assert.Equal(t, 1, srv.signHits)
}
