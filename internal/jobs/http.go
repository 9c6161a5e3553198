package jobs

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/auth"
	"github.com/ibrahimGoumrane/cvJobMatchingAPI/internal/storage"
)

// UploadService はアップロードファイルの保存を提供するサービスが実装します。
type UploadService interface {
	SaveUpload(ctx context.Context, jobID, role string, file *multipart.FileHeader) (*storage.StoredFile, error)
	RemoveJobDir(jobID string) error
}

// Submitter はジョブの受理を提供します。
type Submitter interface {
	Submit(ctx context.Context, ownerID string, sub Submission) (*Ack, error)
}

// RecordReader はジョブ状態の参照を提供します。
type RecordReader interface {
	GetRecord(ctx context.Context, jobID string) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
	ListRecordsByOwner(ctx context.Context, ownerID string) ([]*Record, error)
}

// FileOpener はダウンロード配信用のファイルアクセスを提供します。
type FileOpener interface {
	Open(path string) (*os.File, os.FileInfo, error)
}

// SubmitHandler は POST /api/v1/jobs のハンドラーを返します。
// CVと求人票を保存してジョブを受理し、評価の完了は待たずに応答します。
func SubmitHandler(uploads UploadService, submitter Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		cvFile, err := c.FormFile("cv")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "cv フィールドでCVファイルを送信してください。",
			})
			return
		}
		jdFile, err := c.FormFile("jd")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jd フィールドで求人票ファイルを送信してください。",
			})
			return
		}

		ctx := c.Request.Context()
		ownerID := resolveOwner(c)

		// 保存ディレクトリ名とレコードのジョブIDにはこの1つのIDを共用する
		jobID := uuid.NewString()

		cvStored, err := uploads.SaveUpload(ctx, jobID, "cv", cvFile)
		if err != nil {
			_ = uploads.RemoveJobDir(jobID)
			respondWithError(c, err)
			return
		}
		jdStored, err := uploads.SaveUpload(ctx, jobID, "jd", jdFile)
		if err != nil {
			_ = uploads.RemoveJobDir(jobID)
			respondWithError(c, err)
			return
		}

		ack, err := submitter.Submit(ctx, ownerID, Submission{
			JobID:  jobID,
			CVPath: cvStored.Path,
			JDPath: jdStored.Path,
			CVType: string(cvStored.DocType),
			JDType: string(jdStored.DocType),
		})
		if err != nil {
			_ = uploads.RemoveJobDir(jobID)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "JOB_CREATE_FAILED",
				"message": "ジョブの作成に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusAccepted, ack)
	}
}

// StatusHandler は GET /api/v1/jobs/:id のハンドラーを返します。
func StatusHandler(reader RecordReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := reader.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		c.JSON(http.StatusOK, recordPayload(record))
	}
}

// ListHandler は GET /api/v1/jobs のハンドラーを返します。
// userId クエリが指定された場合はそのオーナーのジョブに絞り込みます。
// page / limit クエリでページングできます（既定: 1ページ目・20件）。
func ListHandler(reader RecordReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			records []*Record
			err     error
		)
		if ownerID := strings.TrimSpace(c.Query("userId")); ownerID != "" {
			records, err = reader.ListRecordsByOwner(ctx, ownerID)
		} else {
			records, err = reader.ListRecords(ctx)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ一覧の取得に失敗しました。",
			})
			return
		}

		page, limit := parsePagination(c)
		c.JSON(http.StatusOK, listPayload(records, page, limit))
	}
}

// OwnerJobsHandler は GET /api/v1/users/me/jobs のハンドラーを返します。
// ログイン済みユーザー自身のジョブ一覧を返します。
func OwnerJobsHandler(reader RecordReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString(auth.ContextUserKey)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		records, err := reader.ListRecordsByOwner(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ一覧の取得に失敗しました。",
			})
			return
		}

		page, limit := parsePagination(c)
		c.JSON(http.StatusOK, listPayload(records, page, limit))
	}
}

// ReportHandler は GET /api/v1/jobs/:id/report のハンドラーを返します。
// 完了済みジョブの評価レポートを配信します。
func ReportHandler(reader RecordReader, files FileOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := loadRecord(c, reader)
		if !ok {
			return
		}
		if record.Status != StatusCompleted || record.ReportPath == "" {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "REPORT_NOT_FOUND",
				"message": "評価レポートはまだ生成されていません。",
			})
			return
		}

		serveStoredFile(c, files, record.JobID, record.ReportPath, "REPORT_NOT_FOUND", "評価レポートが見つかりませんでした。")
	}
}

// InputFileHandler は GET /api/v1/jobs/:id/files/:role のハンドラーを返します。
// role は cv または jd です。
func InputFileHandler(reader RecordReader, files FileOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, ok := loadRecord(c, reader)
		if !ok {
			return
		}

		var path string
		switch c.Param("role") {
		case "cv":
			path = record.CVPath
		case "jd":
			path = record.JDPath
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "role は cv または jd を指定してください。",
			})
			return
		}

		serveStoredFile(c, files, record.JobID, path, "FILE_NOT_FOUND", "入力ファイルが見つかりませんでした。")
	}
}

func loadRecord(c *gin.Context, reader RecordReader) (*Record, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId を指定してください。",
		})
		return nil, false
	}

	record, err := reader.GetRecord(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ情報の取得に失敗しました。",
		})
		return nil, false
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
		return nil, false
	}
	return record, true
}

// serveStoredFile はファイル名とMIMEタイプをパスから導出して配信します。
func serveStoredFile(c *gin.Context, files FileOpener, jobID, path, notFoundCode, notFoundMessage string) {
	file, info, err := files.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    notFoundCode,
				"message": notFoundMessage,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ファイルの取得に失敗しました。",
		})
		return
	}
	defer file.Close()

	filename := filepath.Base(path)
	contentType := storage.ContentType(path)
	encodedName := url.PathEscape(filename)

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", jobID)
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}

func recordPayload(record *Record) gin.H {
	payload := gin.H{
		"jobId":     record.JobID,
		"ownerId":   record.OwnerID,
		"status":    record.Status,
		"progress":  record.Progress,
		"createdAt": record.CreatedAt,
		"updatedAt": record.UpdatedAt,
	}
	if record.Decision != "" {
		payload["decision"] = record.Decision
	}
	if record.ReportPath != "" {
		payload["reportPath"] = record.ReportPath
	}
	return payload
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parsePagination は page / limit クエリを読み取ります。
// 不正な値や範囲外の値は既定値に丸めます。
func parsePagination(c *gin.Context) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// listPayload は指定ページ分のジョブと件数メタデータを返します。
// total は絞り込み後の全件数で、ページ範囲外なら jobs は空になります。
func listPayload(records []*Record, page, limit int) gin.H {
	total := len(records)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := make([]gin.H, 0, end-start)
	for _, record := range records[start:end] {
		items = append(items, recordPayload(record))
	}
	return gin.H{
		"jobs":  items,
		"total": total,
		"page":  page,
		"limit": limit,
	}
}

// resolveOwner は投稿ジョブのオーナーIDを決めます。ログイン済みの場合は
// セッションのユーザー名が常に優先され、フォームの userId では上書きできません。
func resolveOwner(c *gin.Context) string {
	if user := c.GetString(auth.ContextUserKey); user != "" {
		return user
	}
	if user := strings.TrimSpace(c.PostForm("userId")); user != "" {
		return user
	}
	return "anonymous"
}

func respondWithError(c *gin.Context, err error) {
	var storageErr *storage.Error
	switch {
	case errors.As(err, &storageErr):
		status := http.StatusBadRequest
		if storageErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    storageErr.Code,
			"message": storageErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
