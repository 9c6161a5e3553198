// Package storage はアップロードファイルのローカル保存と取得を提供します。
package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// DocType は評価パイプラインが扱える文書種別を表します。
type DocType string

const (
	DocTypePDF  DocType = "pdf"
	DocTypeDOCX DocType = "docx"
	DocTypeTXT  DocType = "txt"
)

// StoredFile は保存済みアップロードファイルのメタデータです。
type StoredFile struct {
	Path         string
	OriginalName string
	Size         int64
	DocType      DocType
}

// Service はローカルファイルシステム上のアップロード保存域を管理します。
type Service struct {
	baseDir     string
	maxFileSize int64
	maxPages    int
}

// NewService は Service を作成します。maxFileSize/maxPages が0以下の場合、
// その制限は適用されません。
func NewService(baseDir string, maxFileSize int64, maxPages int) *Service {
	return &Service{
		baseDir:     baseDir,
		maxFileSize: maxFileSize,
		maxPages:    maxPages,
	}
}

// JobDir はジョブの入力ファイルを保存するディレクトリを返します。
func (s *Service) JobDir(jobID string) string {
	return filepath.Join(s.baseDir, jobID)
}

// SaveUpload はアップロードされたファイルをジョブのディレクトリへ保存します。
// role は保存ファイル名の接頭辞になります（cv / jd）。
func (s *Service) SaveUpload(ctx context.Context, jobID, role string, file *multipart.FileHeader) (*StoredFile, error) {
	if file == nil {
		return nil, newError("INVALID_INPUT", "ファイルを選択してください。", nil)
	}
	if strings.TrimSpace(jobID) == "" || strings.TrimSpace(role) == "" {
		return nil, fmt.Errorf("jobID and role are required")
	}
	if s.maxFileSize > 0 && file.Size > s.maxFileSize {
		return nil, newError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	originalName := sanitizeFilename(file.Filename)
	destPath := filepath.Join(dir, role+"_"+originalName)

	src, err := file.Open()
	if err != nil {
		return nil, newError("INVALID_INPUT", "アップロードファイルを開けませんでした。", err)
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	written, err := io.Copy(dest, src)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	docType := detectDocType(originalName, destPath)
	if docType == DocTypePDF {
		if err := s.validatePDF(destPath); err != nil {
			_ = os.Remove(destPath)
			return nil, err
		}
	}

	return &StoredFile{
		Path:         destPath,
		OriginalName: originalName,
		Size:         written,
		DocType:      docType,
	}, nil
}

// ReadFile はパスのファイル内容を返します。存在しない場合は fs.ErrNotExist を包んで返します。
func (s *Service) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found %s: %w", path, fs.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

// Open はダウンロード配信用にファイルを開きます。
func (s *Service) Open(path string) (*os.File, os.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, info, nil
}

// RemoveJobDir はジョブのアップロードディレクトリを削除します。
func (s *Service) RemoveJobDir(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("jobID is required")
	}
	return os.RemoveAll(s.JobDir(jobID))
}

// ContentType はファイル内容からMIMEタイプを推定します。
func ContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

func (s *Service) validatePDF(path string) error {
	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return newError("INVALID_INPUT", "PDFファイルの解析に失敗しました。", err)
	}
	if s.maxPages > 0 && pages > s.maxPages {
		return newError("LIMIT_EXCEEDED", "PDFのページ数が上限を超えています。", nil)
	}
	return nil
}

// detectDocType は拡張子から文書種別を決定します。拡張子で判別できない場合は
// 内容からの推定を試み、それでも不明なら pdf として扱います。
func detectDocType(name, path string) DocType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "pdf":
		return DocTypePDF
	case "docx":
		return DocTypeDOCX
	case "txt":
		return DocTypeTXT
	}

	if mtype, err := mimetype.DetectFile(path); err == nil {
		switch {
		case mtype.Is("application/pdf"):
			return DocTypePDF
		case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
			return DocTypeDOCX
		case mtype.Is("text/plain"):
			return DocTypeTXT
		}
	}

	return DocTypePDF
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "upload"
	}
	return base
}
