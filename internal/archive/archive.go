// Package archive keeps a copy of every imported source file, on local disk
// or in S3, keyed by facility, report month and content hash.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ClaimSync/internal/config"
	"ClaimSync/internal/metadata"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Archiver interface {
	// Archive stores data and returns where it went.
	Archive(ctx context.Context, meta metadata.FileMeta, checksum string, data []byte) (string, error)
}

// New builds the archiver configured by conf. A disabled archive is a no-op.
func New(ctx context.Context, conf config.Archive) (Archiver, error) {
	if !conf.Enabled {
		return Nop{}, nil
	}
	switch conf.Backend {
	case BackendLocal, "":
		return NewLocal(conf.Dir), nil
	case BackendS3:
		if conf.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend needs a bucket")
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(conf.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return NewS3(s3.NewFromConfig(cfg), conf.Bucket, conf.Prefix), nil
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", conf.Backend)
	}
}

// Key is the relative location of an archived file.
func Key(meta metadata.FileMeta, checksum string) string {
	short := checksum
	if len(short) > 12 {
		short = short[:12]
	}
	return path.Join(sanitizePathSegment(meta.FacilityCode), meta.ReportDate.Format("200601"), short+"_"+sanitizePathSegment(meta.Filename))
}

func sanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(s)
}

type Nop struct{}

func (Nop) Archive(context.Context, metadata.FileMeta, string, []byte) (string, error) {
	return "", nil
}

type Local struct {
	dir string
}

func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

func (l *Local) Archive(_ context.Context, meta metadata.FileMeta, checksum string, data []byte) (string, error) {
	dest := filepath.Join(l.dir, filepath.FromSlash(Key(meta, checksum)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("archive dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("archive %s: %w", meta.Filename, err)
	}
	return dest, nil
}

// Putter is the part of the S3 client the archive uses.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client Putter
	bucket string
	prefix string
}

func NewS3(client Putter, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3) Archive(ctx context.Context, meta metadata.FileMeta, checksum string, data []byte) (string, error) {
	key := a.prefix + Key(meta, checksum)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(detectContentType(data)),
		Metadata: map[string]string{
			"facility-code": meta.FacilityCode,
			"category":      string(meta.Category),
			"sha256":        checksum,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 (bucket %s, key %s): %w", a.bucket, key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}

func detectContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	if len(data) > 512 {
		return http.DetectContentType(data[:512])
	}
	return http.DetectContentType(data)
}
