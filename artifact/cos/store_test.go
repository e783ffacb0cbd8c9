package cos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wishub/skillhub/artifact"
)

// fakeCOS is a minimal in-process stand-in for the Tencent COS REST API,
// just enough of it (GET/PUT/DELETE object, GET bucket listing) for Store
// to exercise against over real HTTP, following the pack's own style of
// testing HTTP-backed clients against an httptest.Server rather than
// reimplementing request signing.
type fakeCOS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeCOS() *httptest.Server {
	f := &fakeCOS{objects: map[string][]byte{}}
	return httptest.NewServer(http.HandlerFunc(f.handle))
}

func (f *fakeCOS) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")

	switch r.Method {
	case http.MethodGet:
		if key == "" {
			f.listBucket(w, r)
			return
		}
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeCOS) listBucket(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	var contents strings.Builder
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			fmt.Fprintf(&contents, "<Contents><Key>%s</Key></Contents>", key)
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>skills</Name><Prefix>%s</Prefix><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`, prefix, contents.String())
}

func newTestStore(t *testing.T, server *httptest.Server) *Store {
	t.Helper()
	store, err := New(server.URL, WithSecretID("test"), WithSecretKey("test"))
	require.NoError(t, err)
	return store
}

func TestStorePutThenFetchRoundTrips(t *testing.T) {
	server := newFakeCOS()
	t.Cleanup(server.Close)
	store := newTestStore(t, server)

	key, err := store.Put(context.Background(), "sk1", "v1", "py", []byte("def execute(inputs): return inputs"))
	require.NoError(t, err)
	require.Equal(t, artifact.Key("sk1", "v1", "py"), key)

	data, err := store.Fetch(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "def execute(inputs): return inputs", string(data))
}

func TestStoreFetchMissingKeyReturnsNotFoundError(t *testing.T) {
	server := newFakeCOS()
	t.Cleanup(server.Close)
	store := newTestStore(t, server)

	_, err := store.Fetch(context.Background(), artifact.Key("missing", "v1", "py"))
	var notFound *artifact.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestStoreDeleteRemovesEveryExtensionVariant(t *testing.T) {
	server := newFakeCOS()
	t.Cleanup(server.Close)
	store := newTestStore(t, server)

	_, err := store.Put(context.Background(), "sk1", "v1", "py", []byte("one"))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "sk1", "v1", "zip", []byte("two"))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "sk1", "v2", "py", []byte("other version"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "sk1", "v1"))

	_, err = store.Fetch(context.Background(), artifact.Key("sk1", "v2", "py"))
	require.NoError(t, err, "the other version's blob must survive")

	_, err = store.Fetch(context.Background(), artifact.Key("sk1", "v1", "py"))
	require.Error(t, err)
}

func TestStoreDeleteIsIdempotentOnMissingKeys(t *testing.T) {
	server := newFakeCOS()
	t.Cleanup(server.Close)
	store := newTestStore(t, server)
	require.NoError(t, store.Delete(context.Background(), "never-existed", "v1"))
}

// TestNewRejectsUnparseableBucketURL exercises the one branch that doesn't
// need the fake server at all.
func TestNewRejectsUnparseableBucketURL(t *testing.T) {
	_, err := New("http://example.com/%")
	require.Error(t, err)
}

func TestNewReadsCredentialsFromEnvironmentByDefault(t *testing.T) {
	t.Setenv("TCOS_SECRETID", "env-id")
	t.Setenv("TCOS_SECRETKEY", "env-key")
	server := newFakeCOS()
	t.Cleanup(server.Close)

	store, err := New(server.URL)
	require.NoError(t, err)
	require.NotNil(t, store)
}
