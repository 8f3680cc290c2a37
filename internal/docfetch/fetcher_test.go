package docfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	if b, ok := f.data[key]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("object %q not found", key)
}

func TestNormalizeRef(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "google drive share link",
			in:   "https://drive.google.com/file/d/abc123/view?usp=sharing",
			want: "https://drive.google.com/uc?export=download&id=abc123",
		},
		{
			name: "google docs link",
			in:   "https://docs.google.com/document/d/doc-42/edit",
			want: "https://docs.google.com/document/d/doc-42/export?format=pdf",
		},
		{
			name: "dropbox share link",
			in:   "https://www.dropbox.com/s/xyz/resume.pdf?dl=0",
			want: "https://www.dropbox.com/s/xyz/resume.pdf?dl=1",
		},
		{
			name: "plain https passthrough",
			in:   "https://example.com/cv.pdf",
			want: "https://example.com/cv.pdf",
		},
		{
			name: "surrounding whitespace",
			in:   "  https://example.com/cv.pdf ",
			want: "https://example.com/cv.pdf",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeRef(tc.in)
			if err != nil {
				t.Fatalf("NormalizeRef(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeRef(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRef_UnsupportedScheme(t *testing.T) {
	for _, ref := range []string{"ftp://example.com/cv.pdf", "file:///etc/passwd", "not a url at all"} {
		if _, err := NormalizeRef(ref); !errors.Is(err, ErrUnresolvableReference) {
			t.Fatalf("NormalizeRef(%q) = %v, want ErrUnresolvableReference", ref, err)
		}
	}
}

func TestFetch_HTTPDownload(t *testing.T) {
	content := []byte("%PDF-1.7 fake body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	f := NewFetcher(nil, 1024)
	got, err := f.Fetch(context.Background(), srv.URL+"/cv.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("fetched %q, want %q", got, content)
	}
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(nil, 1024)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf")

	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if dlErr.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", dlErr.Status)
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	f := NewFetcher(nil, 1024)
	_, err := f.Fetch(context.Background(), srv.URL)

	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
}

func TestFetch_StorageReference(t *testing.T) {
	objects := &fakeObjects{data: map[string][]byte{
		"resumes/1/cv.pdf": []byte("stored bytes"),
	}}

	f := NewFetcher(objects, 1024)
	got, err := f.Fetch(context.Background(), "storage://resumes/1/cv.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != "stored bytes" {
		t.Fatalf("fetched %q", got)
	}

	if _, err := f.Fetch(context.Background(), "storage://resumes/1/other.pdf"); !errors.Is(err, ErrUnresolvableReference) {
		t.Fatalf("missing object: got %v, want ErrUnresolvableReference", err)
	}
}

type failingObjects struct {
	err error
}

func (f *failingObjects) ReadObject(_ context.Context, _ string) ([]byte, error) {
	return nil, f.err
}

func TestFetch_StorageOutageStaysRetryable(t *testing.T) {
	outage := errors.New("dial tcp 10.0.0.5:9000: i/o timeout")
	f := NewFetcher(&failingObjects{err: outage}, 1024)

	_, err := f.Fetch(context.Background(), "storage://resumes/1/cv.pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnresolvableReference) {
		t.Fatalf("storage outage classified as unresolvable reference: %v", err)
	}
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		t.Fatalf("storage outage classified as download error: %v", err)
	}
	if !errors.Is(err, outage) {
		t.Fatalf("original error not preserved: %v", err)
	}
}

func TestFetch_StorageNoSuchKeyIsUnresolvable(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	f := NewFetcher(&failingObjects{err: missing}, 1024)

	_, err := f.Fetch(context.Background(), "storage://resumes/1/cv.pdf")
	if !errors.Is(err, ErrUnresolvableReference) {
		t.Fatalf("got %v, want ErrUnresolvableReference", err)
	}
}

func TestFetch_StorageReferenceWithoutStore(t *testing.T) {
	f := NewFetcher(nil, 1024)
	if _, err := f.Fetch(context.Background(), "storage://resumes/1/cv.pdf"); !errors.Is(err, ErrUnresolvableReference) {
		t.Fatalf("got %v, want ErrUnresolvableReference", err)
	}
}

func TestFetch_EmptyReference(t *testing.T) {
	f := NewFetcher(nil, 1024)
	if _, err := f.Fetch(context.Background(), "   "); !errors.Is(err, ErrUnresolvableReference) {
		t.Fatalf("got %v, want ErrUnresolvableReference", err)
	}
}
