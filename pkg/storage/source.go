package storage

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"learnedindex/pkg/config"
)

const objectScheme = "s3://"

var ErrNoEndpoint = errors.New("storage: s3 uri requires object_store.endpoint")

// ParseObjectURI splits s3://bucket/path/to/object.
func ParseObjectURI(uri string) (bucket, object string, ok bool) {
	if !strings.HasPrefix(uri, objectScheme) {
		return "", "", false
	}
	bucket, object, found := strings.Cut(strings.TrimPrefix(uri, objectScheme), "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

// IsCompressed reports whether uri names a zstd stream.
func IsCompressed(uri string) bool {
	return strings.HasSuffix(uri, ".zst")
}

// NewObjectClient connects to the S3-compatible endpoint in cfg.
func NewObjectClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
}

// Open returns a reader for a local path or an s3:// object. Names ending in
// .zst are decompressed transparently.
func Open(ctx context.Context, uri string, cfg config.ObjectStoreConfig) (io.ReadCloser, error) {
	var rc io.ReadCloser
	if bucket, object, ok := ParseObjectURI(uri); ok {
		client, err := NewObjectClient(cfg)
		if err != nil {
			return nil, err
		}
		obj, err := client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
		if err != nil {
			return nil, errors.Wrapf(err, "get %s", uri)
		}
		rc = obj
	} else {
		f, err := os.Open(uri)
		if err != nil {
			return nil, err
		}
		rc = f
	}

	if !IsCompressed(uri) {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, errors.Wrap(err, "zstd reader")
	}
	return &zstdReadCloser{dec: dec, under: rc}, nil
}

// Create returns a writer for a local path or an s3:// object. Names ending in
// .zst are compressed. The object upload completes when Close returns.
func Create(ctx context.Context, uri string, cfg config.ObjectStoreConfig) (io.WriteCloser, error) {
	var wc io.WriteCloser
	if bucket, object, ok := ParseObjectURI(uri); ok {
		client, err := NewObjectClient(cfg)
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		up := &objectWriter{pw: pw, done: make(chan error, 1)}
		go func() {
			_, err := client.PutObject(ctx, bucket, object, pr, -1, minio.PutObjectOptions{})
			_ = pr.CloseWithError(err)
			up.done <- err
		}()
		wc = up
	} else {
		f, err := os.Create(uri)
		if err != nil {
			return nil, err
		}
		wc = f
	}

	if !IsCompressed(uri) {
		return wc, nil
	}
	enc, err := zstd.NewWriter(wc, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		wc.Close()
		return nil, errors.Wrap(err, "zstd writer")
	}
	return &zstdWriteCloser{enc: enc, under: wc}, nil
}

type zstdReadCloser struct {
	dec   *zstd.Decoder
	under io.ReadCloser
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.under.Close()
}

type zstdWriteCloser struct {
	enc   *zstd.Encoder
	under io.WriteCloser
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) {
	return z.enc.Write(p)
}

func (z *zstdWriteCloser) Close() error {
	if err := z.enc.Close(); err != nil {
		z.under.Close()
		return err
	}
	return z.under.Close()
}

type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}
