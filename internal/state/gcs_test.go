package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"bqflow/internal/domain"
)

// fakeGCS serves the subset of the JSON storage API used by GCSStore:
// multipart and resumable uploads, object metadata and media downloads.
type fakeGCS struct {
	mu       sync.Mutex
	objects  map[string][]byte // bucket/name -> body
	sessions map[string]string // upload id -> bucket/name
	nextID   int
}

func newFakeGCS(t *testing.T) *httptest.Server {
	t.Helper()
	f := &fakeGCS{objects: map[string][]byte{}, sessions: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeGCS) serve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/upload/session/"):
		f.finishResumable(w, r, strings.TrimPrefix(p, "/upload/session/"))
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/o"):
		f.upload(w, r, bucketFromPath(p))
	case strings.Contains(p, "/b/") && strings.Contains(p, "/o/"):
		rest := p[strings.Index(p, "/b/")+len("/b/"):]
		bucket, name, _ := strings.Cut(rest, "/o/")
		f.read(w, r, bucket, name, r.URL.Query().Get("alt") == "media")
	default:
		// XML API read: /bucket/name
		bucket, name, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
		f.read(w, r, bucket, name, true)
	}
}

func bucketFromPath(p string) string {
	rest := p[strings.Index(p, "/b/")+len("/b/"):]
	return strings.TrimSuffix(rest, "/o")
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request, bucket string) {
	switch r.URL.Query().Get("uploadType") {
	case "resumable":
		var meta struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.nextID++
		id := strconv.Itoa(f.nextID)
		f.sessions[id] = bucket + "/" + meta.Name
		f.mu.Unlock()
		w.Header().Set("Location", "http://"+r.Host+"/upload/session/"+id)
		w.WriteHeader(http.StatusOK)
	default:
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		metaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var meta struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dataPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(dataPart)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.store(w, bucket, meta.Name, body)
	}
}

func (f *fakeGCS) finishResumable(w http.ResponseWriter, r *http.Request, id string) {
	f.mu.Lock()
	key, ok := f.sessions[id]
	f.mu.Unlock()
	if !ok {
		writeGCSError(w, http.StatusNotFound, "no such upload session")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bucket, name, _ := strings.Cut(key, "/")
	f.store(w, bucket, name, body)
}

func (f *fakeGCS) store(w http.ResponseWriter, bucket, name string, body []byte) {
	f.mu.Lock()
	f.objects[bucket+"/"+name] = body
	f.mu.Unlock()
	writeObjectJSON(w, bucket, name, len(body))
}

func (f *fakeGCS) read(w http.ResponseWriter, _ *http.Request, bucket, name string, media bool) {
	f.mu.Lock()
	body, ok := f.objects[bucket+"/"+name]
	f.mu.Unlock()
	if !ok {
		writeGCSError(w, http.StatusNotFound, "No such object: "+bucket+"/"+name)
		return
	}
	if !media {
		writeObjectJSON(w, bucket, name, len(body))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Goog-Generation", "1")
	w.Header().Set("X-Goog-Metageneration", "1")
	_, _ = w.Write(body)
}

func writeObjectJSON(w http.ResponseWriter, bucket, name string, size int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"kind":           "storage#object",
		"bucket":         bucket,
		"name":           name,
		"size":           strconv.Itoa(size),
		"generation":     "1",
		"metageneration": "1",
		"contentType":    "application/json",
	})
}

func writeGCSError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func newTestGCSStore(t *testing.T) *GCSStore {
	t.Helper()
	srv := newFakeGCS(t)
	s, err := NewGCSStore(context.Background(), "gs://results/states", "",
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
		storage.WithJSONReads(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGCSStore_RoundTrip(t *testing.T) {
	s := newTestGCSStore(t)
	ctx := context.Background()

	want := &domain.ResultState{
		JobID:      "bqflow_abc",
		ResultSize: 42,
		SavedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Put(ctx, "daily_sales", want))

	ok, err := s.Exists(ctx, "daily_sales")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "daily_sales")
	require.NoError(t, err)
	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, want.ResultSize, got.ResultSize)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
}

func TestGCSStore_MissingKey(t *testing.T) {
	s := newTestGCSStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "absent")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGCSStore_InvalidKey(t *testing.T) {
	s := newTestGCSStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{name: "get", call: func() error { _, err := s.Get(ctx, "../escape"); return err }},
		{name: "put", call: func() error { return s.Put(ctx, "../escape", &domain.ResultState{}) }},
		{name: "exists", call: func() error { _, err := s.Exists(ctx, "../escape"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *domain.ValidationError
			require.ErrorAs(t, tt.call(), &ve)
		})
	}
}
