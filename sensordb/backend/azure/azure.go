package azure

import (
	"bytes"
	"context"

	blob "github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/backend"
)

// max parallelism on downloads
const maxParallelism = 3

type readerWriter struct {
	cfg          *Config
	containerURL blob.ContainerURL
	listings     *backend.ListingCache
	logger       log.Logger
}

// New connects to the Azure blob container holding the partition tree.
func New(cfg *Config, logger log.Logger) (backend.Backend, error) {
	cfg.applyDefaults()

	if cfg.StorageAccountName == "" || cfg.ContainerName == "" {
		return nil, errors.New("azure backend requires storage_account_name and container_name")
	}

	container, err := getContainerURL(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "getting storage container")
	}

	return &readerWriter{
		cfg:          cfg,
		containerURL: container,
		listings:     backend.NewListingCache(cfg.ListTTL),
		logger:       logger,
	}, nil
}

func (rw *readerWriter) List(ctx context.Context, prefix string) ([]string, error) {
	if paths, ok := rw.listings.Get(prefix); ok {
		return paths, nil
	}

	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "azure.List")
	defer span.Finish()

	marker := blob.Marker{}
	paths := make([]string, 0)
	for {
		list, err := rw.containerURL.ListBlobsFlatSegment(derivedCtx, marker, blob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", prefix)
		}
		marker = list.NextMarker

		for _, b := range list.Segment.BlobItems {
			paths = append(paths, b.Name)
		}

		if !marker.NotDone() {
			break
		}
	}

	rw.listings.Put(prefix, paths)
	return paths, nil
}

func (rw *readerWriter) Read(ctx context.Context, path string) ([]byte, error) {
	span, derivedCtx := opentracing.StartSpanFromContext(ctx, "azure.Read")
	defer span.Finish()

	blobURL := rw.containerURL.NewBlockBlobURL(path)

	props, err := blobURL.GetProperties(derivedCtx, blob.BlobAccessConditions{}, blob.ClientProvidedKeyOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrObjectDoesNotExist
		}
		return nil, errors.Wrapf(err, "getting properties for %s", path)
	}

	destBuffer := make([]byte, props.ContentLength())
	if err := blob.DownloadBlobToBuffer(derivedCtx, blobURL.BlobURL, 0, props.ContentLength(),
		destBuffer, blob.DownloadFromBlobOptions{
			BlockSize:   blob.BlobDefaultDownloadBlockSize,
			Parallelism: maxParallelism,
			RetryReaderOptionsPerBlock: blob.RetryReaderOptions{
				MaxRetryRequests: maxRetries,
			},
		},
	); err != nil {
		return nil, errors.Wrapf(err, "cannot download blob, name: %s", path)
	}

	return destBuffer, nil
}

func (rw *readerWriter) Exists(ctx context.Context, path string) (bool, error) {
	blobURL := rw.containerURL.NewBlockBlobURL(path)
	_, err := blobURL.GetProperties(ctx, blob.BlobAccessConditions{}, blob.ClientProvidedKeyOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "checking %s", path)
	}
	return true, nil
}

func (rw *readerWriter) Stat(ctx context.Context, path string) (*backend.Attributes, error) {
	blobURL := rw.containerURL.NewBlockBlobURL(path)
	props, err := blobURL.GetProperties(ctx, blob.BlobAccessConditions{}, blob.ClientProvidedKeyOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrObjectDoesNotExist
		}
		return nil, errors.Wrapf(err, "statting %s", path)
	}
	return &backend.Attributes{
		Size:         props.ContentLength(),
		LastModified: props.LastModified(),
	}, nil
}

func (rw *readerWriter) Write(ctx context.Context, path string, data []byte) error {
	blobURL := rw.containerURL.NewBlockBlobURL(path)

	if _, err := blob.UploadStreamToBlockBlob(ctx, bytes.NewReader(data), blobURL,
		blob.UploadStreamToBlockBlobOptions{
			BufferSize: rw.cfg.BufferSize,
			MaxBuffers: rw.cfg.MaxBuffers,
		},
	); err != nil {
		return errors.Wrapf(err, "cannot upload blob, name: %s", path)
	}
	return nil
}

func (rw *readerWriter) Health(ctx context.Context) *backend.HealthReport {
	report := &backend.HealthReport{
		Diagnostics: map[string]string{
			"backend":   "azure",
			"container": rw.cfg.ContainerName,
		},
	}

	if _, err := rw.containerURL.GetProperties(ctx, blob.LeaseAccessConditions{}); err != nil {
		report.Diagnostics["error"] = err.Error()
		level.Warn(rw.logger).Log("msg", "azure backend unhealthy", "container", rw.cfg.ContainerName, "err", err)
		return report
	}

	report.Healthy = true
	return report
}

func (rw *readerWriter) ClearListingCache() {
	rw.listings.Clear()
}

func (rw *readerWriter) Shutdown() {}
