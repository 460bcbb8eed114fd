package colordb

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
)

// S3Opener reads the table from an S3 object.
type S3Opener struct {
	client *s3.Client
	bucket string
	key    string
}

func NewS3Opener(ctx context.Context, bucket, key, region string) (*S3Opener, error) {
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Opener{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
	}, nil
}

func (o *S3Opener) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, apperrors.NewDataUnavailableError(fmt.Sprintf("color reference %s not found", o), err)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", o, err)
	}
	return out.Body, nil
}

func (o *S3Opener) String() string {
	return "s3://" + o.bucket + "/" + o.key
}

// AzureOpener reads the table from an Azure blob.
type AzureOpener struct {
	client    *azblob.Client
	container string
	blob      string
}

func NewAzureOpener(connectionString, container, blob string) (*AzureOpener, error) {
	if connectionString == "" {
		return nil, errors.New("AZURE_STORAGE_CONNECTION_STRING is required for azblob sources")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureOpener{client: client, container: container, blob: blob}, nil
}

func (o *AzureOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := o.client.DownloadStream(ctx, o.container, o.blob, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, apperrors.NewDataUnavailableError(fmt.Sprintf("color reference %s not found", o), err)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return resp.Body, nil
}

func (o *AzureOpener) String() string {
	return "azblob://" + o.container + "/" + o.blob
}
