// Package index writes documents to Elasticsearch.
//
// Every write is a bulk request of update actions with doc_as_upsert, so
// replaying a batch converges to the same index state. Connection failures,
// timeouts and overload statuses are retried without limit; anything else is
// returned so the caller can leave its watermark where it was.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	"github.com/filmindex/catalog-etl/internal/retry"
	"github.com/olivere/elastic/v7"
)

// ErrBulkFailed is returned when a bulk request was accepted but some items
// were rejected for a non-transient reason.
var ErrBulkFailed = errors.New("index: bulk items rejected")

// RequestTimeout bounds a single HTTP round trip, so a hung cluster shows up
// as a retryable timeout.
const RequestTimeout = 30 * time.Second

// Writer is the write side of the pipeline.
type Writer interface {
	// Upsert writes docs into collection and returns how many were applied.
	// An empty batch makes no request.
	Upsert(ctx context.Context, collection string, docs []catalog.Document) (int, error)

	// Reset drops and recreates collection.
	Reset(ctx context.Context, collection string) error
}

// Elastic is the olivere/elastic backed Writer.
type Elastic struct {
	client *elastic.Client
	policy retry.Policy
	logger *log.Logger
}

// NewElastic creates a client for url. Sniffing is always off and each
// request is bounded by RequestTimeout; extra options are appended after the
// defaults.
func NewElastic(ctx context.Context, url string, policy retry.Policy, logger *log.Logger, opts ...elastic.ClientOptionFunc) (*Elastic, error) {
	if url == "" {
		return nil, fmt.Errorf("elasticsearch url cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}

	options := append([]elastic.ClientOptionFunc{
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHttpClient(&http.Client{Timeout: RequestTimeout}),
	}, opts...)

	var client *elastic.Client
	err := policy.Do(ctx, "elastic", func() error {
		c, err := elastic.NewClient(options...)
		if err != nil {
			return classify(err)
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch at %s: %w", url, err)
	}

	return &Elastic{client: client, policy: policy, logger: logger}, nil
}

// Upsert implements Writer.
func (e *Elastic) Upsert(ctx context.Context, collection string, docs []catalog.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	err := e.policy.Do(ctx, "elastic", func() error {
		// A fresh service per attempt; olivere keeps requests on failure.
		bulk := e.client.Bulk().Index(collection)
		for _, d := range docs {
			bulk.Add(elastic.NewBulkUpdateRequest().
				Index(collection).
				Id(d.DocumentID()).
				Doc(d).
				DocAsUpsert(true))
		}

		resp, err := bulk.Do(ctx)
		if err != nil {
			return classify(err)
		}
		return checkItems(collection, resp)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %d documents into %s: %w", len(docs), collection, err)
	}

	e.logger.Printf("Upserted %d documents into %s", len(docs), collection)
	return len(docs), nil
}

// Reset implements Writer. A missing index is not an error.
func (e *Elastic) Reset(ctx context.Context, collection string) error {
	err := e.policy.Do(ctx, "elastic", func() error {
		if _, err := e.client.DeleteIndex(collection).Do(ctx); err != nil && !elastic.IsNotFound(err) {
			return classify(err)
		}
		if _, err := e.client.CreateIndex(collection).Do(ctx); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset index %s: %w", collection, err)
	}

	e.logger.Printf("Reset index %s", collection)
	return nil
}

// Count refreshes collection and returns the number of searchable
// documents in it.
func (e *Elastic) Count(ctx context.Context, collection string) (int64, error) {
	if _, err := e.client.Refresh(collection).Do(ctx); err != nil {
		return 0, fmt.Errorf("failed to refresh %s: %w", collection, err)
	}
	n, err := e.client.Count(collection).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// checkItems turns per-item rejections into an error. If every rejected
// item failed with a retryable status the whole batch is retried.
func checkItems(collection string, resp *elastic.BulkResponse) error {
	if resp == nil || !resp.Errors {
		return nil
	}

	failed := resp.Failed()
	if len(failed) == 0 {
		return nil
	}

	transient := true
	reasons := make([]string, 0, len(failed))
	for _, item := range failed {
		if !transientStatus(item.Status) {
			transient = false
		}
		reason := fmt.Sprintf("%s: status %d", item.Id, item.Status)
		if item.Error != nil {
			reason += fmt.Sprintf(" %s (%s)", item.Error.Type, item.Error.Reason)
		}
		reasons = append(reasons, reason)
		if len(reasons) == 5 {
			break
		}
	}

	err := fmt.Errorf("%w: %d of %d items in %s: %s",
		ErrBulkFailed, len(failed), len(resp.Items), collection, strings.Join(reasons, "; "))
	if transient {
		return err
	}
	return retry.Permanent(err)
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	if IsTransient(err) {
		return err
	}
	return retry.Permanent(err)
}

// IsTransient reports whether err is a connectivity, timeout or overload
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, elastic.ErrNoClient) || elastic.IsConnErr(err) || elastic.IsTimeout(err) {
		return true
	}
	// olivere hands back transport errors from the http.Client unchanged.
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var e *elastic.Error
	if errors.As(err, &e) {
		return transientStatus(e.Status)
	}
	return false
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
