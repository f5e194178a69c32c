package pinata

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/evidence"
	"xdao.co/escrowsync/evidence/evidencetest"
)

// fakePinata emulates pinFileToIPFS and a gateway over one map.
type fakePinata struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
	headers http.Header
}

func (f *fakePinata) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinFileToIPFS", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.headers = r.Header.Clone()
		if f.fail {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Header.Get("pinata_api_key") == "" || r.Header.Get("pinata_secret_api_key") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(file)
		id := cidutil.String(b)
		f.objects[id] = b
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: id, PinSize: int64(len(b))})
	})
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		b, ok := f.objects[strings.TrimPrefix(r.URL.Path, "/ipfs/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(b)
	})
	return mux
}

func newFake(t *testing.T) (*fakePinata, *Store) {
	t.Helper()
	f := &fakePinata{objects: map[string][]byte{}}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	s, err := New(Options{APIKey: "k", APISecret: "s", Endpoint: srv.URL, Gateway: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, s
}

func TestPinata_Conformance(t *testing.T) {
	evidencetest.RunConformance(t, func(t *testing.T) evidence.Store {
		_, s := newFake(t)
		return s
	})
}

func TestPinata_SendsCredentials(t *testing.T) {
	f, s := newFake(t)
	if _, err := s.Put(context.Background(), []byte("work")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headers.Get("pinata_api_key") != "k" || f.headers.Get("pinata_secret_api_key") != "s" {
		t.Fatalf("headers: %v", f.headers)
	}
}

func TestPinata_UploadFailure(t *testing.T) {
	f, s := newFake(t)
	f.mu.Lock()
	f.fail = true
	f.mu.Unlock()
	_, err := s.Put(context.Background(), []byte("work"))
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected upload failure, got %v", err)
	}
}

func TestPinata_RequiresCredentials(t *testing.T) {
	if _, err := New(Options{APIKey: "k"}); !errors.Is(err, ErrCredentials) {
		t.Fatalf("expected ErrCredentials, got %v", err)
	}
}
