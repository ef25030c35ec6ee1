// Package source resolves the media argument to a local file, downloading
// s3:// objects first.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"
)

const s3Scheme = "s3://"

// ErrNotFound is returned for local paths that do not exist.
var ErrNotFound = errors.New("source: media file not found")

// Object locates an S3 object.
type Object struct {
	Bucket string
	Key    string
}

// ParseS3 splits an s3://bucket/key URI. ok is false for anything that is not
// an s3 URI; err is set for malformed s3 URIs.
func ParseS3(uri string) (obj Object, ok bool, err error) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return Object{}, false, nil
	}
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return Object{}, true, fmt.Errorf("source: invalid s3 uri %q, want s3://bucket/key", uri)
	}
	return Object{Bucket: bucket, Key: key}, true, nil
}

// ObjectGetter is the part of the S3 client the downloader needs.
type ObjectGetter interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// Media is a playable local file.
type Media struct {
	Path string

	// Downloaded marks a temporary copy that Cleanup removes.
	Downloaded bool
}

// Cleanup removes a downloaded copy. Local files are left alone.
func (m Media) Cleanup() error {
	if !m.Downloaded {
		return nil
	}
	return os.Remove(m.Path)
}

// Resolver turns the command-line argument into Media.
type Resolver struct {
	dir    string
	log    *logrus.Entry
	client func() (ObjectGetter, error)
}

// NewResolver downloads into dir. The S3 client is only built when an s3 URI
// is resolved.
func NewResolver(dir string, log *logrus.Entry) *Resolver {
	return &Resolver{dir: dir, log: log, client: newS3Client}
}

// WithClient makes the resolver use c for downloads.
func (r *Resolver) WithClient(c ObjectGetter) *Resolver {
	r.client = func() (ObjectGetter, error) { return c, nil }
	return r
}

// Resolve returns the local media for arg.
func (r *Resolver) Resolve(ctx context.Context, arg string) (Media, error) {
	obj, isS3, err := ParseS3(arg)
	if err != nil {
		return Media{}, err
	}
	if !isS3 {
		info, err := os.Stat(arg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Media{}, fmt.Errorf("%w: %s", ErrNotFound, arg)
			}
			return Media{}, fmt.Errorf("source: %w", err)
		}
		if info.IsDir() {
			return Media{}, fmt.Errorf("source: %s is a directory", arg)
		}
		return Media{Path: arg}, nil
	}

	client, err := r.client()
	if err != nil {
		return Media{}, err
	}
	return r.download(ctx, client, obj)
}

func (r *Resolver) download(ctx context.Context, client ObjectGetter, obj Object) (Media, error) {
	r.log.WithFields(logrus.Fields{"bucket": obj.Bucket, "key": obj.Key}).Info("Source: downloading from S3")

	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return Media{}, fmt.Errorf("source: get s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Media{}, fmt.Errorf("source: %w", err)
	}
	// Keep the extension, decoder selection depends on it.
	f, err := os.CreateTemp(r.dir, "player-*"+path.Ext(obj.Key))
	if err != nil {
		return Media{}, fmt.Errorf("source: %w", err)
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return Media{}, fmt.Errorf("source: write %s: %w", f.Name(), err)
	}

	r.log.WithFields(logrus.Fields{"path": filepath.Base(f.Name()), "bytes": n}).Info("Source: download complete")
	return Media{Path: f.Name(), Downloaded: true}, nil
}

// newS3Client uses static credentials from AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY when both are set, the SDK default chain otherwise.
func newS3Client() (ObjectGetter, error) {
	cfg := aws.NewConfig()
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		cfg = cfg.WithRegion(region)
	}
	access, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if access != "" && secret != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(access, secret, os.Getenv("AWS_SESSION_TOKEN")))
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("source: aws session: %w", err)
	}
	return s3.New(sess), nil
}
