// e2e builds a fixture crate tarball, serves it from an in-process HTTP
// server, and drives the Query Facade end to end: directory listing,
// ranged file reads, full-text search, structural item search, and a
// single-flight race check under concurrent cold-cache requests. This
// replaces the teacher's FUSE-mounting demo: this domain has no mount
// point, only facade calls.
package main

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/klauspost/compress/gzip"

	"github.com/cratescope/cratescope/pkg/cache"
	"github.com/cratescope/cratescope/pkg/common"
	"github.com/cratescope/cratescope/pkg/facade"
	"github.com/cratescope/cratescope/pkg/items"
	"github.com/cratescope/cratescope/pkg/registry"
	"github.com/cratescope/cratescope/pkg/search"
)

const (
	fixtureName    = "demo"
	fixtureVersion = "0.1.0"
)

func main() {
	sourceDir, err := writeFixtureSourceTree()
	if err != nil {
		log.Fatalf("writing fixture source tree: %v", err)
	}
	defer os.RemoveAll(sourceDir)

	tarball, err := buildTarballFromTree(sourceDir, fixtureName, fixtureVersion)
	if err != nil {
		log.Fatalf("building fixture tarball: %v", err)
	}

	var getCount int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		getCount++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(tarball)
	}))
	defer server.Close()

	backend := registry.NewHTTPBackend(server.URL+"/{name}/{name}-{version}.crate", 10*time.Second, 0)
	loader := registry.NewLoader(registry.Options{Backend: backend, MaxEntryBytes: 0, MaxTotalBytes: 0})
	c := cache.New(loader, 64<<20, 16)
	f := facade.New(c, 4)

	key := common.CrateKey{Name: fixtureName, Version: fixtureVersion}
	ctx := context.Background()

	fmt.Println("== directory listing ==")
	entries, err := f.Directory(ctx, key, "")
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("  %-6s %s\n", e.Kind, e.Name)
	}

	fmt.Println("== ranged file read (src/lib.rs, lines 1-3) ==")
	text, err := f.File(ctx, key, "src/lib.rs", 1, 3)
	if err != nil {
		log.Fatalf("file: %v", err)
	}
	fmt.Println(text)

	fmt.Println("== full-text search: \"Deserialize\" ==")
	matches, err := f.Lines(ctx, key, search.Request{Query: "Deserialize", Mode: search.ModePlainText})
	if err != nil {
		log.Fatalf("lines: %v", err)
	}
	for _, m := range matches {
		fmt.Printf("  %s:%d: %s\n", m.Path, m.LineNumber, m.LineText)
	}

	fmt.Println("== item search: traits ==")
	records, err := f.Items(ctx, key, items.Query{Category: items.CategoryTrait})
	if err != nil {
		log.Fatalf("items: %v", err)
	}
	for _, r := range records {
		fmt.Printf("  %s %s (%s:%d-%d)\n", r.Category, r.DeclarationName, r.Path, r.LineStart, r.LineEnd)
	}

	fmt.Println("== single-flight race check ==")
	raceCache := cache.New(registry.NewLoader(registry.Options{Backend: backend}), 64<<20, 16)
	raceFacade := facade.New(raceCache, 4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := raceFacade.Directory(ctx, key, ""); err != nil {
				log.Printf("concurrent directory call failed: %v", err)
			}
		}()
	}
	wg.Wait()
	fmt.Printf("  cache stats after 8 concurrent cold requests: %+v\n", raceCache.Stats())

	mu.Lock()
	fmt.Printf("total outbound GETs observed by origin: %d\n", getCount)
	mu.Unlock()
}

// writeFixtureSourceTree materializes a tiny Rust-flavored crate on disk
// so godirwalk has something real to walk, the way the teacher's
// archiver walks a source directory to build a .clip file.
func writeFixtureSourceTree() (string, error) {
	root, err := os.MkdirTemp("", "cratescope-e2e-*")
	if err != nil {
		return "", err
	}

	files := map[string]string{
		"Cargo.toml": "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n",
		"src/lib.rs": "pub struct Config {\n    pub verbose: bool,\n}\n\npub trait Deserialize {\n    fn deserialize(input: &str) -> Self;\n}\n\npub fn hello() -> &'static str {\n    \"hello\"\n}\n",
	}

	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return root, nil
}

// buildTarballFromTree walks sourceDir with godirwalk and packs every
// regular file into a gzipped tar archive rooted at "<name>-<version>/",
// mirroring what a real crates.io tarball looks like.
func buildTarballFromTree(sourceDir, name, version string) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	rootPrefix := fmt.Sprintf("%s-%s/", name, version)

	err := godirwalk.Walk(sourceDir, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(sourceDir, osPathname)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(osPathname)
			if err != nil {
				return err
			}
			hdr := &tar.Header{
				Name:     rootPrefix + filepath.ToSlash(rel),
				Mode:     0o644,
				Size:     int64(len(data)),
				Typeflag: tar.TypeReg,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			_, err = tw.Write(data)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
