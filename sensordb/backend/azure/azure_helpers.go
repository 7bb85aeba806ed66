package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	blob "github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
)

const maxRetries = 3

func getContainerURL(ctx context.Context, cfg *Config) (blob.ContainerURL, error) {
	credential, err := blob.NewSharedKeyCredential(cfg.StorageAccountName, cfg.StorageAccountKey)
	if err != nil {
		return blob.ContainerURL{}, errors.Wrap(err, "creating azure credential")
	}

	retryOptions := blob.RetryOptions{
		MaxTries: int32(maxRetries),
		Policy:   blob.RetryPolicyExponential,
	}
	if deadline, ok := ctx.Deadline(); ok {
		retryOptions.TryTimeout = time.Until(deadline)
	}

	customTransport := http.DefaultTransport.(*http.Transport).Clone()
	// default MaxIdleConnsPerHost is 2, increase that to reduce connection turnover
	customTransport.MaxIdleConnsPerHost = 100
	customTransport.MaxIdleConns = 100
	client := http.Client{Transport: customTransport}

	httpSender := pipeline.FactoryFunc(func(next pipeline.Policy, po *pipeline.PolicyOptions) pipeline.PolicyFunc {
		return func(ctx context.Context, request pipeline.Request) (pipeline.Response, error) {
			resp, err := client.Do(request.WithContext(ctx))
			return pipeline.NewHTTPResponse(resp), err
		}
	})

	p := blob.NewPipeline(credential, blob.PipelineOptions{
		Retry:      retryOptions,
		Telemetry:  blob.TelemetryOptions{Value: "sensordb"},
		HTTPSender: httpSender,
	})

	u, err := url.Parse(fmt.Sprintf("https://%s.%s", cfg.StorageAccountName, cfg.Endpoint))
	if err != nil {
		return blob.ContainerURL{}, errors.Wrap(err, "parsing azure endpoint")
	}

	service := blob.NewServiceURL(*u, p)
	return service.NewContainerURL(cfg.ContainerName), nil
}

func isNotFound(err error) bool {
	var stgErr blob.StorageError
	if errors.As(err, &stgErr) {
		return stgErr.ServiceCode() == blob.ServiceCodeBlobNotFound
	}
	return false
}
