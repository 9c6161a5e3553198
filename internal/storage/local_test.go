package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newFileHeader(t *testing.T, field, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		t.Fatalf("failed to parse multipart form: %v", err)
	}
	files := req.MultipartForm.File[field]
	if len(files) != 1 {
		t.Fatalf("unexpected file count: %d", len(files))
	}
	return files[0]
}

func TestSaveUploadAndReadFile(t *testing.T) {
	svc := NewService(t.TempDir(), 0, 0)
	content := []byte("experienced gopher, ten years of distributed systems")
	header := newFileHeader(t, "cv", "resume.txt", content)

	stored, err := svc.SaveUpload(context.Background(), "job-1", "cv", header)
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}
	if stored.DocType != DocTypeTXT {
		t.Fatalf("docType = %s, want txt", stored.DocType)
	}
	if stored.OriginalName != "resume.txt" {
		t.Fatalf("originalName = %s", stored.OriginalName)
	}
	if filepath.Base(stored.Path) != "cv_resume.txt" {
		t.Fatalf("unexpected stored path: %s", stored.Path)
	}

	data, err := svc.ReadFile(stored.Path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("ReadFile content mismatch: %q", data)
	}
}

func TestReadFileNotFound(t *testing.T) {
	svc := NewService(t.TempDir(), 0, 0)

	_, err := svc.ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestSaveUploadSizeLimit(t *testing.T) {
	svc := NewService(t.TempDir(), 4, 0)
	header := newFileHeader(t, "cv", "resume.txt", []byte("too large for the limit"))

	_, err := svc.SaveUpload(context.Background(), "job-1", "cv", header)
	if err == nil {
		t.Fatal("expected size limit error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "LIMIT_EXCEEDED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectDocTypeFallback(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "plain.bin")
	if err := os.WriteFile(textPath, []byte("just plain text content"), 0o640); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if got := detectDocType("plain.bin", textPath); got != DocTypeTXT {
		t.Fatalf("detectDocType(bin with text) = %s, want txt", got)
	}
	if got := detectDocType("cv.docx", textPath); got != DocTypeDOCX {
		t.Fatalf("detectDocType(docx ext) = %s, want docx", got)
	}
	if got := detectDocType("cv.pdf", textPath); got != DocTypePDF {
		t.Fatalf("detectDocType(pdf ext) = %s, want pdf", got)
	}
}

func TestRemoveJobDir(t *testing.T) {
	svc := NewService(t.TempDir(), 0, 0)
	header := newFileHeader(t, "jd", "role.txt", []byte("senior backend engineer"))

	stored, err := svc.SaveUpload(context.Background(), "job-9", "jd", header)
	if err != nil {
		t.Fatalf("SaveUpload returned error: %v", err)
	}

	if err := svc.RemoveJobDir("job-9"); err != nil {
		t.Fatalf("RemoveJobDir returned error: %v", err)
	}
	if _, err := os.Stat(stored.Path); !os.IsNotExist(err) {
		t.Fatalf("expected upload to be removed, stat err=%v", err)
	}
}
