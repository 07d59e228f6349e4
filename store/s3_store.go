package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is an Object-Store Store variant: each document is one JSON
// object, keyed by "<prefix>/<key-value>.json".
//
// Uses HeadBucket to check the bucket on Connect, whole-object GetObject
// reads, ListObjectsV2 with pagination for listing, and manager.Uploader
// for writes; each document is an individually-addressable, overwritable
// JSON object.
type S3Store struct {
	name             string
	client           *s3.Client
	bucket           string
	prefix           string
	key              string
	lastUpdatedField string
}

// NewS3Store creates an Object-Store-backed Store. client is a configured
// *s3.Client (see serial/aws.go for how a serialized description
// produces one via aws-sdk-go-v2/config).
func NewS3Store(name string, client *s3.Client, bucket, prefix, key, lastUpdatedField string) *S3Store {
	return &S3Store{
		name:             name,
		client:           client,
		bucket:           bucket,
		prefix:           prefix,
		key:              key,
		lastUpdatedField: lastUpdatedField,
	}
}

// Connect implements Store. The S3 client is already configured by the
// caller; Connect only verifies the bucket is reachable.
func (s *S3Store) Connect(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3store: connect bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Close implements Store. The underlying *s3.Client owns no per-Store
// connection to release.
func (s *S3Store) Close(_ context.Context) error { return nil }

// Key implements Store.
func (s *S3Store) Key() string { return s.key }

// LastUpdatedField implements Store.
func (s *S3Store) LastUpdatedField() string { return s.lastUpdatedField }

// Name implements Store.
func (s *S3Store) Name() string { return s.name }

func (s *S3Store) objectKey(docKey string) string {
	return path.Join(s.prefix, docKey+".json")
}

func (s *S3Store) listKeys(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) getDocument(ctx context.Context, objectKey string) (Document, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("s3store: decode %s: %w", objectKey, err)
	}
	return d, nil
}

func (s *S3Store) all(ctx context.Context) ([]Document, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		d, err := s.getDocument(ctx, k)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Query implements Store. Each matching object is fetched lazily as the
// returned sequence is consumed.
func (s *S3Store) Query(ctx context.Context, q Query) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		keys, err := s.listKeys(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		criteria := normalize(q.Criteria)
		proj := withProjectionDefaults(q, s.key, s.lastUpdatedField)
		matched := 0
		emitted := 0
		for _, objKey := range keys {
			d, err := s.getDocument(ctx, objKey)
			if err != nil {
				yield(nil, err)
				return
			}
			if !criteria.Match(d) {
				continue
			}
			matched++
			if matched <= q.Skip {
				continue
			}
			if q.Limit > 0 && emitted >= q.Limit {
				return
			}
			emitted++
			if !yield(project(d, proj), nil) {
				return
			}
		}
	}
}

// QueryOne implements Store.
func (s *S3Store) QueryOne(ctx context.Context, q Query) (Document, bool, error) {
	q.Limit = 1
	for d, err := range s.Query(ctx, q) {
		return d, true, err
	}
	return nil, false, nil
}

// Count implements Store.
func (s *S3Store) Count(ctx context.Context, criteria Criteria) (int, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	criteria = normalize(criteria)
	n := 0
	for _, d := range docs {
		if criteria.Match(d) {
			n++
		}
	}
	return n, nil
}

// Distinct implements Store.
func (s *S3Store) Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	seen := map[any]struct{}{}
	var out []any
	for _, d := range docs {
		if !criteria.Match(d) {
			continue
		}
		v, ok := d[field]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// GroupBy implements Store.
func (s *S3Store) GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error) {
	docs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	criteria = normalize(criteria)
	groups := groupDocuments(docs, fields, criteria)
	return func(yield func(GroupKey, iter.Seq[Document]) bool) {
		for _, g := range groups {
			members := g.members
			seq := func(y func(Document) bool) {
				for _, d := range members {
					if !y(d) {
						return
					}
				}
			}
			if !yield(g.key, seq) {
				return
			}
		}
	}, nil
}

// Update implements Store: each document is PUT as its own JSON object
// via manager.Uploader.Upload, one synchronous upload of the encoded
// bytes per document.
func (s *S3Store) Update(ctx context.Context, docs []Document, keyFields []string) error {
	if len(keyFields) == 0 {
		keyFields = []string{s.key}
	}
	uploader := manager.NewUploader(s.client)
	for _, d := range docs {
		k := fmt.Sprintf("%v", compositeKey(d, keyFields))
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("s3store: encode document: %w", err)
		}
		_, err = uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(k)),
			Body:   bytes.NewReader(payload),
		})
		if err != nil {
			return fmt.Errorf("s3store: put %s: %w", k, err)
		}
	}
	return nil
}

// RemoveDocs implements Store.
func (s *S3Store) RemoveDocs(ctx context.Context, criteria Criteria) (int, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	criteria = normalize(criteria)
	n := 0
	for _, d := range docs {
		if !criteria.Match(d) {
			continue
		}
		k := fmt.Sprintf("%v", d[s.key])
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(k)),
		})
		if err != nil {
			return n, fmt.Errorf("s3store: delete %s: %w", k, err)
		}
		n++
	}
	return n, nil
}

// EnsureIndex implements Store. S3 has no index concept; this is a
// deliberate no-op.
func (s *S3Store) EnsureIndex(_ context.Context, _ string, _ bool) error { return nil }

// LastUpdated implements Store.
func (s *S3Store) LastUpdated(ctx context.Context) (time.Time, error) {
	docs, err := s.all(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var max time.Time
	for _, d := range docs {
		if t, ok := docTime(d, s.lastUpdatedField); ok && t.After(max) {
			max = t
		}
	}
	return max, nil
}

// NewerIn implements Store.
func (s *S3Store) NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error) {
	return newerIn(ctx, s, other, criteria, exhaustive)
}
