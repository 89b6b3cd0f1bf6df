package writer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "cseflow/config"
	"cseflow/logger"
)

// ErrPublishDisabled is returned when publishing is requested but
// storage.s3.enabled is false.
var ErrPublishDisabled = errors.New("s3 publishing is disabled")

// objectPutter is the subset of the S3 client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads finished artifacts to S3 under a dated prefix.
type Publisher struct {
	client  objectPutter
	bucket  string
	prefix  string
	version string
	runID   string
	now     func() time.Time
	log     *logger.Log
}

// NewPublisher configures the AWS SDK from cfg.Storage.S3. Static keys are
// used when set, otherwise the default credential chain.
func NewPublisher(ctx context.Context, cfg *appconfig.Config, runID string) (*Publisher, error) {
	s3cfg := cfg.Storage.S3
	if !s3cfg.Enabled {
		return nil, ErrPublishDisabled
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})
	return newPublisher(client, cfg, runID), nil
}

func newPublisher(client objectPutter, cfg *appconfig.Config, runID string) *Publisher {
	return &Publisher{
		client:  client,
		bucket:  cfg.Storage.S3.Bucket,
		prefix:  strings.Trim(cfg.Storage.S3.Prefix, "/"),
		version: cfg.App.Version,
		runID:   runID,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

// ObjectKey returns <prefix>/<yyyy>/<mm>/<dd>/<file> for a local path.
func (p *Publisher) ObjectKey(local string, at time.Time) string {
	at = at.UTC()
	parts := []string{
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		filepath.Base(local),
	}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Artifacts lists the pipeline outputs a publish run considers.
func Artifacts(paths appconfig.PathsConfig) []string {
	return []string{
		paths.Manifest,
		paths.TickersFile,
		paths.PanelFile,
		paths.ReturnsFile,
		paths.ReportFile,
	}
}

// Publish uploads each file that exists and returns the keys written.
// Missing files are skipped.
func (p *Publisher) Publish(ctx context.Context, files []string) ([]string, error) {
	log := p.log.WithComponent("publisher").WithFields(logger.Fields{"bucket": p.bucket})
	at := p.now()
	var keys []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		key, err := p.upload(ctx, f, at)
		if errors.Is(err, os.ErrNotExist) {
			log.WithFields(logger.Fields{"file": f}).Debug("artifact not present, skipping")
			continue
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
		log.WithFields(logger.Fields{"file": f, "key": key}).Info("uploaded artifact")
	}
	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, local string, at time.Time) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := p.ObjectKey(local, at)
	contentType := mime.TypeByExtension(filepath.Ext(local))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"run-id":          p.runID,
			"cseflow-version": p.version,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", local, p.bucket, err)
	}
	return key, nil
}
