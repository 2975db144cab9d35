// Package objstore is the S3 adapter: listing, transfer and placeholder
// management for the object-store side of the sync.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/casebridge/casesync/internal/pathutil"
)

// Client wraps the AWS S3 client with the project key layout.
type Client struct {
	s3     *s3.Client
	bucket string
	layout Layout
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        200,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewClientWithS3(s3Client, cfg.Bucket, cfg.Layout), nil
}

func NewClientWithS3(s3Client *s3.Client, bucket string, layout Layout) *Client {
	return &Client{s3: s3Client, bucket: bucket, layout: layout}
}

// KeyFor builds the real object key for a RelKey within a project.
func (c *Client) KeyFor(project, rel string) string {
	return c.layout.KeyFor(project, rel)
}

// ProjectPrefix returns the full key prefix for a project.
func (c *Client) ProjectPrefix(project string) string {
	return c.layout.ProjectPrefix(project)
}

// ListProject lists every object under the project prefix, keyed by folded
// RelKey. Keys that do not fit the layout are skipped with a warning.
func (c *Client) ListProject(ctx context.Context, project string) (map[string]*RemoteFile, error) {
	prefix := c.layout.ProjectPrefix(project)
	out := make(map[string]*RemoteFile)

	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel, ok := c.layout.RelFromKey(project, key)
			if !ok {
				slog.Warn("object key outside project layout", "key", key)
				continue
			}
			out[pathutil.Fold(rel)] = &RemoteFile{
				RelOriginal:  rel,
				RealKey:      key,
				LastModified: aws.ToTime(obj.LastModified).UTC().Truncate(time.Second),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			}
		}
	}
	return out, nil
}

// ListProjects discovers project names one level under the root prefix.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	scope := c.layout.RootScope()
	input := &s3.ListObjectsV2Input{
		Bucket:    &c.bucket,
		Delimiter: aws.String("/"),
	}
	if scope != "" {
		input.Prefix = &scope
	}

	var projects []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list projects under %s: %w", scope, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), scope), "/")
			if name != "" {
				projects = append(projects, name)
			}
		}
	}
	return projects, nil
}

// HasProjectPrefix reports whether any object exists under the project
// prefix.
func (c *Client) HasProjectPrefix(ctx context.Context, project string) (bool, error) {
	prefix := c.layout.ProjectPrefix(project)
	resp, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &c.bucket,
		Prefix:  &prefix,
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return aws.ToInt32(resp.KeyCount) > 0, nil
}

// SeedProject creates the root placeholder for a newly discovered local
// project so its prefix exists on the object store.
func (c *Client) SeedProject(ctx context.Context, project string) error {
	key := c.layout.ProjectPrefix(project) + pathutil.PlaceholderName
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
		Body:   bytes.NewReader(nil),
	})
	return err
}

// Upload copies a local file to an object key.
func (c *Client) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(pathutil.LongPath(localPath))
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(DetectContentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// Download copies an object to a local file, creating parent directories.
func (c *Client) Download(ctx context.Context, key, localPath string) error {
	resp, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", c.bucket, key, err)
	}
	defer resp.Body.Close()

	localPath = pathutil.LongPath(localPath)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return nil
}

// Delete removes an object. A missing object is success.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil
	}
	return err
}

// PutBytes writes an in-memory body with object metadata and tags. Used by
// the webhook path, which stamps document identity onto every object.
func (c *Client) PutBytes(ctx context.Context, key string, body []byte, filename string, metadata, tags map[string]string) error {
	contentType := DetectContentType(filename)
	disposition := "attachment"
	if strings.HasPrefix(contentType, "image/") {
		disposition = "inline"
	}

	input := &s3.PutObjectInput{
		Bucket:             &c.bucket,
		Key:                &key,
		Body:               bytes.NewReader(body),
		ContentLength:      aws.Int64(int64(len(body))),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("%s; filename=%q", disposition, filename)),
		Metadata:           metadata,
	}
	if len(tags) > 0 {
		vals := url.Values{}
		for k, v := range tags {
			vals.Set(k, v)
		}
		input.Tagging = aws.String(vals.Encode())
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// EnsurePlaceholders materializes a .placeholder at every level of every
// folder path, head-then-put so existing markers are left untouched.
func (c *Client) EnsurePlaceholders(ctx context.Context, project string, folderPaths []string) {
	prefix := c.layout.ProjectPrefix(project)

	levels := make(map[string]struct{})
	for _, p := range folderPaths {
		for _, lvl := range PathLevels(p) {
			levels[lvl] = struct{}{}
		}
	}

	for lvl := range levels {
		key := prefix + lvl + "/" + pathutil.PlaceholderName
		if c.objectExists(ctx, key) {
			continue
		}
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &c.bucket,
			Key:    &key,
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			slog.Error("create placeholder failed", "key", key, "error", err)
			continue
		}
		slog.Info("created folder placeholder", "key", key)
	}
}

func (c *Client) objectExists(ctx context.Context, key string) bool {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	return err == nil
}

// FindKeysByDocID locates objects for an Origin document by the fv_docid
// tag, falling back to the documentid metadata header.
func (c *Client) FindKeysByDocID(ctx context.Context, project string, docID int64) ([]string, error) {
	prefix := c.layout.ProjectPrefix(project)
	target := strconv.FormatInt(docID, 10)

	var matches []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if path.Base(key) == pathutil.PlaceholderName {
				continue
			}
			if c.docIDMatches(ctx, key, target) {
				matches = append(matches, key)
			}
		}
	}
	return matches, nil
}

func (c *Client) docIDMatches(ctx context.Context, key, target string) bool {
	tagResp, err := c.s3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err == nil {
		for _, t := range tagResp.TagSet {
			if aws.ToString(t.Key) == "fv_docid" && aws.ToString(t.Value) == target {
				return true
			}
		}
	} else {
		slog.Warn("get object tagging failed", "key", key, "error", err)
	}

	head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		slog.Warn("head object failed", "key", key, "error", err)
		return false
	}
	for mk, mv := range head.Metadata {
		if strings.EqualFold(mk, "documentid") && mv == target {
			return true
		}
	}
	return false
}

// PathLevels expands "A/B/C" to ["A", "A/B", "A/B/C"]; placeholders are
// created at every level.
func PathLevels(p string) []string {
	p = pathutil.NormalizeRel(p)
	if p == "" {
		return nil
	}
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	for i := range segs {
		out = append(out, strings.Join(segs[:i+1], "/"))
	}
	return out
}
