package img2img

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// ErrCheckpointNotFound is returned (wrapped) when a named checkpoint does
// not exist in a store.
var ErrCheckpointNotFound = errors.New("img2img: checkpoint not found")

// CheckpointStore persists encoded checkpoints by name.
type CheckpointStore interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// FileStore keeps checkpoints as files in a local directory.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint dir %s", dir)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Errorf("img2img: invalid checkpoint name %q", name)
	}
	return filepath.Join(s.Dir, name), nil
}

// Write replaces the checkpoint atomically through a temporary file.
func (s *FileStore) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, "."+name+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temporary checkpoint")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write checkpoint %s", name)
	}
	// CreateTemp uses 0600
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod checkpoint %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close checkpoint %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), dst), "commit checkpoint %s", name)
}

func (s *FileStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrCheckpointNotFound, "%s", p)
	}
	return data, errors.Wrapf(err, "read checkpoint %s", p)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list checkpoint dir %s", s.Dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// S3Store keeps checkpoints as objects under Prefix in Bucket.
type S3Store struct {
	Bucket string
	Prefix string
	svc    s3iface.S3API
}

// S3Config for NewS3Store. Endpoint is optional (S3-compatible servers).
type S3Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string
}

// NewS3Store opens a session from the default AWS credential chain.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, errors.New("img2img: S3 bucket is required")
	}
	awsCfg := &aws.Config{Region: aws.String(config.Region)}
	if config.Endpoint != "" {
		awsCfg.Endpoint = aws.String(config.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create AWS session")
	}
	return NewS3StoreWithClient(s3.New(sess), config.Bucket, config.Prefix), nil
}

// NewS3StoreWithClient wraps an existing S3 client.
func NewS3StoreWithClient(svc s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{Bucket: bucket, Prefix: strings.Trim(prefix, "/"), svc: svc}
}

func (s *S3Store) key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return path.Join(s.Prefix, name)
}

func (s *S3Store) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "upload s3://%s/%s", s.Bucket, s.key(name))
}

func (s *S3Store) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.Wrapf(ErrCheckpointNotFound, "s3://%s/%s", s.Bucket, s.key(name))
		}
		return nil, errors.Wrapf(err, "download s3://%s/%s", s.Bucket, s.key(name))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	return data, errors.Wrapf(err, "read s3://%s/%s", s.Bucket, s.key(name))
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.Prefix != "" {
		prefix = s.Prefix + "/"
	}
	var names []string
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list s3://%s/%s", s.Bucket, prefix)
	}
	sort.Strings(names)
	return names, nil
}
