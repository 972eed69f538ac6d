package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

var (
	// ErrCancelled reports a transfer aborted by the caller (for example
	// when its conversation is closed). The owning message must be marked
	// failed, never left pending.
	ErrCancelled = errors.New("upload cancelled")
	// ErrRetriesExhausted reports a terminal transfer failure.
	ErrRetriesExhausted = errors.New("upload retries exhausted")
)

// Progress is one progress report for an in-flight transfer.
type Progress struct {
	BytesSent  int64 `json:"bytes_sent"`
	BytesTotal int64 `json:"bytes_total"`
}

// SignedURL is a time-limited read reference for a stored object.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service is the uploader boundary consumed by the Optimistic Writer.
type Service interface {
	Upload(ctx context.Context, msgID models.ID, conversationID int64, objectPath, contentType string, data io.ReaderAt, size int64, onProgress func(Progress)) error
	Sign(ctx context.Context, objectPath string) (SignedURL, error)
	Cancel(msgID models.ID)
	CancelConversation(conversationID int64)
	Progress(msgID models.ID) (Progress, bool)
}

// Client transfers attachments to object storage with chunked, resumable
// uploads. A failed chunk resumes from the server's committed offset;
// retries are bounded and a terminal failure is surfaced to the caller.
// Uploads for distinct messages are independent; the only shared state is
// the in-flight registry used for cancellation and progress.
type Client struct {
	endpoint    string
	bucket      string
	token       string
	http        *http.Client
	chunkSize   int64
	retryDelays []time.Duration
	signTTL     time.Duration

	mu       sync.Mutex
	inflight map[models.ID]*transfer
}

type transfer struct {
	conversationID int64
	cancel         context.CancelFunc
	bytesSent      atomic.Int64
	bytesTotal     int64
}

// Options configures a Client.
type Options struct {
	Endpoint    string
	Bucket      string
	Token       string
	HTTPClient  *http.Client
	ChunkSize   int64
	RetryDelays []time.Duration
	SignTTL     time.Duration
}

// NewClient builds an upload client. Defaults: 6 MiB chunks, retry
// schedule 0s/3s/5s/10s/20s, signed URLs valid for one hour.
func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 6 * 1024 * 1024
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	if opts.SignTTL == 0 {
		opts.SignTTL = time.Hour
	}
	return &Client{
		endpoint:    opts.Endpoint,
		bucket:      opts.Bucket,
		token:       opts.Token,
		http:        opts.HTTPClient,
		chunkSize:   opts.ChunkSize,
		retryDelays: opts.RetryDelays,
		signTTL:     opts.SignTTL,
		inflight:    make(map[models.ID]*transfer),
	}
}

// Upload transfers data to objectPath, reporting progress after each
// committed chunk. It blocks until the transfer succeeds, is cancelled,
// or fails terminally.
func (c *Client) Upload(ctx context.Context, msgID models.ID, conversationID int64, objectPath, contentType string, data io.ReaderAt, size int64, onProgress func(Progress)) error {
	ctx, cancel := context.WithCancel(ctx)
	t := &transfer{conversationID: conversationID, cancel: cancel, bytesTotal: size}

	c.mu.Lock()
	c.inflight[msgID] = t
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.inflight, msgID)
		c.mu.Unlock()
	}()

	err := c.run(ctx, t, objectPath, contentType, data, size, onProgress)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.IncUpload("cancelled")
			return ErrCancelled
		}
		observability.IncUpload("failed")
		return err
	}
	observability.IncUpload("succeeded")
	observability.ObserveUploadBytes(size)
	return nil
}

func (c *Client) run(ctx context.Context, t *transfer, objectPath, contentType string, data io.ReaderAt, size int64, onProgress func(Progress)) error {
	var uploadURL string
	var offset int64
	attempt := 0

	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= len(c.retryDelays) {
			return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}
		delay := c.retryDelays[attempt]
		attempt++
		observability.IncUploadRetry()
		log.Printf("upload: chunk failed at offset %d, retrying in %s: %v", offset, delay, err)
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if uploadURL == "" {
			url, err := c.create(ctx, objectPath, contentType, size)
			if err != nil {
				if ferr := fail(err); ferr != nil {
					return ferr
				}
				continue
			}
			uploadURL = url
		}

		committed, err := c.sendChunk(ctx, uploadURL, data, offset, size)
		if err != nil {
			if ferr := fail(err); ferr != nil {
				return ferr
			}
			// Resume from the server's committed offset rather than
			// restarting from zero.
			if resumed, herr := c.committedOffset(ctx, uploadURL); herr == nil {
				offset = resumed
			}
			continue
		}

		offset = committed
		t.bytesSent.Store(offset)
		if onProgress != nil {
			onProgress(Progress{BytesSent: offset, BytesTotal: size})
		}
		if offset >= size {
			return nil
		}
	}
}

// create opens a resumable transfer and returns its upload URL.
func (c *Client) create(ctx context.Context, objectPath, contentType string, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/upload/resumable", nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", strconv.FormatInt(size, 10))
	req.Header.Set("X-Upsert", "true")
	req.Header.Set("Upload-Metadata", encodeMetadata(map[string]string{
		"bucketName":  c.bucket,
		"objectName":  objectPath,
		"contentType": contentType,
	}))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create upload: unexpected status %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("create upload: missing Location header")
	}
	return loc, nil
}

// sendChunk uploads one chunk starting at offset and returns the
// server-committed offset afterwards.
func (c *Client) sendChunk(ctx context.Context, uploadURL string, data io.ReaderAt, offset, size int64) (int64, error) {
	n := c.chunkSize
	if remaining := size - offset; remaining < n {
		n = remaining
	}
	chunk := io.NewSectionReader(data, offset, n)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, chunk)
	if err != nil {
		return 0, err
	}
	c.authorize(req)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	req.ContentLength = n

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return 0, fmt.Errorf("chunk at offset %d: unexpected status %d", offset, resp.StatusCode)
	}
	committed, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chunk at offset %d: bad Upload-Offset header: %w", offset, err)
	}
	return committed, nil
}

// committedOffset asks the server how much of the transfer it has.
func (c *Client) committedOffset(ctx context.Context, uploadURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req)
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, fmt.Errorf("offset probe: unexpected status %d", resp.StatusCode)
	}
	return strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
}

// Sign resolves a time-limited read reference for a stored object.
func (c *Client) Sign(ctx context.Context, objectPath string) (SignedURL, error) {
	body, _ := json.Marshal(map[string]int64{"expiresIn": int64(c.signTTL.Seconds())})
	url := fmt.Sprintf("%s/object/sign/%s/%s", c.endpoint, c.bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SignedURL{}, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SignedURL{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SignedURL{}, fmt.Errorf("sign object: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: out.SignedURL, ExpiresAt: time.Now().Add(c.signTTL)}, nil
}

// Cancel aborts the in-flight transfer for a message, if any.
func (c *Client) Cancel(msgID models.ID) {
	c.mu.Lock()
	t, ok := c.inflight[msgID]
	c.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// CancelConversation aborts all in-flight transfers belonging to a
// conversation. Called when the conversation is closed.
func (c *Client) CancelConversation(conversationID int64) {
	c.mu.Lock()
	var cancels []context.CancelFunc
	for _, t := range c.inflight {
		if t.conversationID == conversationID {
			cancels = append(cancels, t.cancel)
		}
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Progress reports the current progress of an in-flight transfer.
func (c *Client) Progress(msgID models.ID) (Progress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.inflight[msgID]
	if !ok {
		return Progress{}, false
	}
	return Progress{BytesSent: t.bytesSent.Load(), BytesTotal: t.bytesTotal}, true
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func encodeMetadata(meta map[string]string) string {
	buf := make([]byte, 0, 64)
	first := true
	for k, v := range meta {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, k...)
		buf = append(buf, ' ')
		buf = append(buf, base64.StdEncoding.EncodeToString([]byte(v))...)
	}
	return string(buf)
}
