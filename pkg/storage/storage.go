// Package storage сохраняет загруженные файлы инцидентов на диск или в S3.
package storage

import (
	"context"
	"io"
)

// Storage - внешнее хранилище файлов. Загрузка синхронная, повторов нет.
type Storage interface {
	Upload(ctx context.Context, request *UploadRequest) (*UploadResponse, error)
	Delete(ctx context.Context, key string) error
}

type UploadRequest struct {
	Key         string
	Reader      io.Reader
	ContentType string
	Size        int64
}

type UploadResponse struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}
