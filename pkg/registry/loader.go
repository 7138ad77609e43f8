// Package registry implements the Archive Loader (spec §4.A): fetching a
// gzipped tar archive for one CrateKey from an origin, decompressing it,
// and retaining each regular file's bytes in a snapshot.Builder.
package registry

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/snapshot"
)

// Backend fetches the raw gzip-compressed tarball bytes for key and
// returns them as a stream the caller must close, or returns a
// *common.Error (CodeNotFound,
// CodeUpstream). Two backends exist: HTTPBackend (default) and S3Backend
// (optional private mirror), selected by pkg/config.
type Backend interface {
	Fetch(ctx context.Context, key common.CrateKey) (io.ReadCloser, error)
}

// Options configures a Loader.
type Options struct {
	Backend        Backend
	MaxEntryBytes  int64 // per-file cap; 0 disables
	MaxTotalBytes  int64 // aggregate decompressed cap; 0 disables
}

// Loader implements cache.Loader by delegating to a Backend and streaming
// the result through gzip/tar into a snapshot.
type Loader struct {
	opts Options
}

// NewLoader builds a Loader over opts.
func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts}
}

// countingReader tracks bytes read from an underlying reader, ported from
// the teacher's OCI indexer (pkg/clip/oci_indexer.go) where it underlies
// gzip checkpointing. Load wraps the compressed body in one, but the
// aggregate size cap is enforced on decompressed bytes via the builder's
// running TotalBytes, not on this count.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	k, err := cr.r.Read(p)
	cr.n += int64(k)
	return k, err
}

// Load fetches, decompresses, and indexes the tarball for key, returning
// an immutable snapshot.Snapshot. Satisfies cache.Loader.
func (l *Loader) Load(ctx context.Context, key common.CrateKey) (*snapshot.Snapshot, error) {
	body, err := l.opts.Backend.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	counted := &countingReader{r: body}
	gzr, err := gzip.NewReader(counted)
	if err != nil {
		return nil, common.NewError(common.CodeMalformedArchive, "gzip header", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	builder := snapshot.NewBuilder(key)
	rootPrefix := fmt.Sprintf("%s-%s/", key.Name, key.Version)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.NewError(common.CodeMalformedArchive, "tar entry", err)
		}

		// Edge policy (spec §4.A): skip directories, symlinks, hard
		// links, and device entries; only regular files are retained.
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			continue
		}

		if l.opts.MaxEntryBytes > 0 && hdr.Size > l.opts.MaxEntryBytes {
			return nil, common.NewError(common.CodeOversize,
				fmt.Sprintf("entry %s exceeds per-file cap", hdr.Name), nil)
		}

		relPath := strings.TrimPrefix(hdr.Name, rootPrefix)
		if relPath == hdr.Name {
			// Entry didn't carry the expected <name>-<version>/ prefix;
			// still strip a leading "./" and keep going rather than
			// failing the whole archive over one odd entry's prefix.
			relPath = strings.TrimPrefix(hdr.Name, "./")
		}

		data := make([]byte, hdr.Size)
		if _, err := io.ReadFull(tr, data); err != nil {
			return nil, common.NewError(common.CodeMalformedArchive, "reading entry "+hdr.Name, err)
		}

		if !builder.AddFile(relPath, data) {
			return nil, common.NewError(common.CodeMalformedArchive,
				"unsafe entry path "+hdr.Name, nil)
		}

		if l.opts.MaxTotalBytes > 0 && builder.TotalBytes() > l.opts.MaxTotalBytes {
			return nil, common.NewError(common.CodeOversize, "aggregate decompressed size exceeded", nil)
		}
	}

	log.Info().
		Str("crate", key.String()).
		Int64("bytes", builder.TotalBytes()).
		Msg("registry: loaded snapshot")

	return builder.Freeze(), nil
}

// DefaultOriginTemplate is crates.io's static tarball download endpoint
// (spec §6).
const DefaultOriginTemplate = "https://static.crates.io/crates/{name}/{name}-{version}.crate"

// HTTPBackend fetches tarballs over plain HTTPS from a registry's static
// download endpoint. No authentication is performed (spec §4.A: "bearer-
// less HTTP client").
type HTTPBackend struct {
	URLTemplate string
	Client      *retryablehttp.Client
}

// NewHTTPBackend builds an HTTPBackend with a retrying client configured
// for the given timeout and retry budget, grounded on the dial/transport
// tuning in the teacher's pkg/v2/cdn.go CDN client.
func NewHTTPBackend(urlTemplate string, timeout time.Duration, maxRetries int) *HTTPBackend {
	if urlTemplate == "" {
		urlTemplate = DefaultOriginTemplate
	}

	transport := &http.Transport{
		MaxConnsPerHost:     64,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
		DialContext:         common.DialContextPreferIPv6,
	}

	httpClient := &http.Client{Timeout: timeout, Transport: transport}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = maxRetries
	rc.Logger = nil // quiet by default; callers can override rc.Logger
	// Never retry a 404: it is a definitive answer, not a transient fault.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &HTTPBackend{URLTemplate: urlTemplate, Client: rc}
}

func (b *HTTPBackend) url(key common.CrateKey) string {
	u := strings.ReplaceAll(b.URLTemplate, "{name}", key.Name)
	u = strings.ReplaceAll(u, "{version}", key.Version)
	return u
}

// Fetch issues the tarball GET for key.
func (b *HTTPBackend) Fetch(ctx context.Context, key common.CrateKey) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, b.url(key), nil)
	if err != nil {
		return nil, common.NewError(common.CodeInternal, "building request", err)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, common.NewError(common.CodeUpstream, "fetching "+key.String(), err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, common.NewError(common.CodeNotFound, "crate not found: "+key.String(), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, common.NewError(common.CodeUpstream,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, key.String()), nil)
	}

	return resp.Body, nil
}
