package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/config"
)

func TestBuildObjectKey(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		suffix   string
	}{
		{"plain", "report.pdf", "-report.pdf"},
		{"spaces", "my scan (1).pdf", "-my-scan-1-.pdf"},
		{"path traversal", "../../etc/passwd", "-passwd"},
		{"empty", "", "-document.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := buildObjectKey("user-1", tt.fileName)
			if !strings.HasPrefix(key, "print/user-1/") {
				t.Errorf("key = %q, want print/user-1/ prefix", key)
			}
			if !strings.HasSuffix(key, tt.suffix) {
				t.Errorf("key = %q, want suffix %q", key, tt.suffix)
			}
			if strings.Contains(key, "..") {
				t.Errorf("key = %q contains ..", key)
			}
		})
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(config.S3Config{}); err == nil {
		t.Error("NewS3() expected error without bucket")
	}
}

func TestPut(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method = %s, want PUT", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		gotPath, gotBody, gotType = r.URL.Path, string(body), r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3(config.S3Config{
		Endpoint:  srv.URL,
		Bucket:    "prints",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3() error = %v", err)
	}

	key, err := store.Put(context.Background(), "user-1", "flyer.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if gotPath != "/prints/"+key {
		t.Errorf("request path = %q, want /prints/%s", gotPath, key)
	}
	if gotType != "application/pdf" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if !strings.Contains(gotBody, "%PDF-1.4 test") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPresignGet(t *testing.T) {
	store, err := NewS3(config.S3Config{
		Endpoint:  "http://minio.local:9000",
		Bucket:    "prints",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3() error = %v", err)
	}

	u, err := store.PresignGet(context.Background(), "print/u/2026/10/x-a.pdf", 10*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	if !strings.HasPrefix(u, "http://minio.local:9000/prints/print/u/2026/10/x-a.pdf?") {
		t.Errorf("url = %q", u)
	}
	if !strings.Contains(u, "X-Amz-Signature=") || !strings.Contains(u, "X-Amz-Expires=600") {
		t.Errorf("url = %q is not presigned for 600s", u)
	}
}
