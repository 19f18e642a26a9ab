// Package storage выдаёт короткоживущие подписанные ссылки на файлы в объектном хранилище.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrEmptyPath возвращается при попытке подписать пустой путь.
var ErrEmptyPath = errors.New("storage path is empty")

// Presigner описывает используемые методы s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Signer подписывает GET-запросы к объектам бакета.
type S3Signer struct {
	presigner Presigner
	bucket    string
}

// NewS3Signer создаёт подписчик поверх стандартной цепочки учётных данных AWS.
func NewS3Signer(ctx context.Context, region, bucket string) (*S3Signer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return NewSigner(s3.NewPresignClient(client), bucket), nil
}

// NewSigner создаёт подписчик с заданным Presigner.
func NewSigner(p Presigner, bucket string) *S3Signer {
	return &S3Signer{presigner: p, bucket: bucket}
}

// SignedURL возвращает ссылку на объект path, действующую ttl.
// fileName попадает в Content-Disposition, чтобы браузер сохранял файл под исходным именем.
func (s *S3Signer) SignedURL(ctx context.Context, path, fileName string, ttl time.Duration) (string, error) {
	key := strings.TrimLeft(path, "/")
	if key == "" {
		return "", ErrEmptyPath
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if fileName != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", fileName))
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}

	return req.URL, nil
}
