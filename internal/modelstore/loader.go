// Package modelstore locates and loads the fitted scaler/classifier artifact,
// either from the local filesystem or from a Cloud Storage object.
package modelstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/cardio-risk-server/internal/domain"
	"github.com/cardio-risk-server/internal/service"
	"github.com/cardio-risk-server/pkg/ml"
)

const gcsScheme = "gs://"

// Load reads the artifact named by cfg and returns a model ready for inference.
// Every failure wraps domain.ErrModelUnavailable.
func Load(ctx context.Context, cfg domain.ModelConfig, logger *logrus.Logger) (*service.ModelService, error) {
	r, err := Open(ctx, cfg.ArtifactURI, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	defer r.Close()

	model, err := ml.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	svc, err := service.NewModelService(model)
	if err != nil {
		return nil, err
	}

	version := svc.Version()
	if cfg.Version != "" && version != "" && cfg.Version != version {
		logger.WithFields(logrus.Fields{
			"expected": cfg.Version,
			"artifact": version,
		}).Warn("Model artifact version differs from configured version")
	}
	logger.WithFields(logrus.Fields{
		"uri":     cfg.ArtifactURI,
		"version": version,
	}).Info("Risk model loaded")
	return svc, nil
}

// Open returns a reader for a local path or a gs://bucket/object URI
func Open(ctx context.Context, uri, credentialsFile string) (io.ReadCloser, error) {
	if uri == "" {
		return nil, fmt.Errorf("no model artifact configured")
	}
	if !strings.HasPrefix(uri, gcsScheme) {
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("opening model artifact: %w", err)
		}
		return f, nil
	}

	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadOnly)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("reading gs://%s/%s: %w", bucket, object, err)
	}
	return &gcsReader{Reader: r, client: client}, nil
}

// ParseGCSURI splits gs://bucket/path/to/object
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(uri, gcsScheme)
	if rest == uri {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// URI needs a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// gcsReader closes the client together with the object reader
type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (g *gcsReader) Close() error {
	err := g.Reader.Close()
	if cerr := g.client.Close(); err == nil {
		err = cerr
	}
	return err
}
