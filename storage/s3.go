package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/world-registry/interfaces"
)

// S3Store keeps each definition as a JSON object under
// <prefix>/<target>/<protocol>/<version>.json, with target and protocol
// encoded as path segments.
//
// Uniqueness is emulated with a HEAD before each PUT. Two writers racing on
// the same key may both succeed, the later object replacing the earlier.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
	now         func() time.Time
}

// NewS3Store creates an S3 store. Static credentials are used when both keys
// are set, otherwise the SDK default credential chain applies.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket name", interfaces.ErrInvalidStoreURI)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
		now:         time.Now,
	}, nil
}

func (b *S3Store) QueryProtocols(ctx context.Context, query interfaces.ProtocolsQuery) ([]interfaces.ProtocolEntry, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	start := time.Now()

	var keys []string
	if len(query.Filter.Versions) > 0 {
		for _, v := range query.Filter.Versions {
			keys = append(keys, b.objectKey(query.Target, query.Filter.Protocol, v))
		}
	} else {
		listed, err := b.listKeys(ctx, b.protocolPrefix(query.Target, query.Filter.Protocol))
		if err != nil {
			return nil, err
		}
		keys = listed
	}

	var out []interfaces.ProtocolEntry
	for _, key := range keys {
		entry, found, err := b.getEntry(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found || !query.Filter.Matches(entry.Protocol, entry.Version) || entry.Target != query.Target {
			continue
		}
		out = append(out, entry)
	}

	b.log.Debug("Queried protocol definitions in S3",
		slog.String("bucket", b.bucketName),
		slog.Int("found", len(out)),
		slog.Duration("duration", time.Since(start)))

	sortEntries(out)
	return out, nil
}

func (b *S3Store) RegisterProtocol(ctx context.Context, msg interfaces.ProtocolsConfigure) error {
	if err := validateConfigure(msg); err != nil {
		return err
	}
	key := b.objectKey(msg.Target, msg.Definition.Protocol, msg.Version)

	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err == nil {
		return interfaces.ErrProtocolExists
	}
	if !isS3NotFound(err) {
		return classifyS3("head object", err)
	}

	data, err := json.Marshal(newEntry(msg, b.now()))
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", interfaces.ErrDefinitionRejected, err)
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyS3("put object", err)
	}

	b.log.Debug("Stored protocol definition in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key))
	return nil
}

func (b *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the store URI with the secret key redacted.
func (b *S3Store) LocationURI() string {
	return b.locationURI
}

func (b *S3Store) protocolPrefix(target, protocol string) string {
	return path.Join(b.prefix, segment(target), segment(protocol)) + "/"
}

func (b *S3Store) objectKey(target, protocol, version string) string {
	return b.protocolPrefix(target, protocol) + version + ".json"
}

func (b *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if key := aws.StringValue(obj.Key); strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
		return true
	})
	if err != nil {
		return nil, classifyS3("list objects", err)
	}
	return keys, nil
}

func (b *S3Store) getEntry(ctx context.Context, key string) (interfaces.ProtocolEntry, bool, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return interfaces.ProtocolEntry{}, false, nil
		}
		return interfaces.ProtocolEntry{}, false, classifyS3("get object", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return interfaces.ProtocolEntry{}, false, fmt.Errorf("%w: read object body: %v", interfaces.ErrStoreUnavailable, err)
	}

	var entry interfaces.ProtocolEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return interfaces.ProtocolEntry{}, false, fmt.Errorf("decode object %s: %w", key, err)
	}
	return entry, true, nil
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// classifyS3 treats throttling, server errors and transport failures as transient.
func classifyS3(action string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		status := reqErr.StatusCode()
		if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
			return fmt.Errorf("%w: %s: %v", interfaces.ErrStoreUnavailable, action, err)
		}
		return fmt.Errorf("%s: %w", action, err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == request.CanceledErrorCode {
		return fmt.Errorf("%s: %w", action, context.Canceled)
	}
	return fmt.Errorf("%w: %s: %v", interfaces.ErrStoreUnavailable, action, err)
}
