package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"server/internal/cache"
	"server/internal/domain"
)

func newTestStore(t *testing.T) (*AssetStore, *cache.Index) {
	t.Helper()
	root := t.TempDir()
	index, err := cache.NewIndex(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatalf("NewIndex error: %v", err)
	}
	assets, err := NewAssetStore(filepath.Join(root, "assets"), index)
	if err != nil {
		t.Fatalf("NewAssetStore error: %v", err)
	}
	return assets, index
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestSavePromotesAndDemotes(t *testing.T) {
	assets, index := newTestStore(t)
	ctx := context.Background()

	first, err := assets.Save(ctx, "c1", "key1", 0, []byte("generation-one"), "image/png")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if first.Filename != "curr_key1_0.png" {
		t.Fatalf("unexpected filename %q", first.Filename)
	}
	if !first.IsCurrent {
		t.Fatal("saved asset must be current")
	}

	second, err := assets.Save(ctx, "c1", "key1", 0, []byte("generation-two"), "image/png")
	if err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	dir := filepath.Join(assets.BasePath(), "c1")
	names := listFiles(t, dir)
	currentCount := 0
	for _, name := range names {
		if strings.HasPrefix(name, "curr_") {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly one current file, got %d (%v)", currentCount, names)
	}

	data, err := os.ReadFile(second.FilePath)
	if err != nil {
		t.Fatalf("read current asset: %v", err)
	}
	if string(data) != "generation-two" {
		t.Fatalf("current asset holds stale bytes: %q", data)
	}

	historical, err := os.ReadFile(filepath.Join(dir, "key1_0.png"))
	if err != nil {
		t.Fatalf("expected demoted historical file: %v", err)
	}
	if string(historical) != "generation-one" {
		t.Fatalf("historical asset holds wrong bytes: %q", historical)
	}

	entry, ok := index.Lookup("key1")
	if !ok {
		t.Fatal("index must know the current asset")
	}
	if entry.Filename != second.Filename {
		t.Fatalf("index disagrees with store: %q vs %q", entry.Filename, second.Filename)
	}
}

func TestSaveRejectsEmptyData(t *testing.T) {
	assets, _ := newTestStore(t)
	_, err := assets.Save(context.Background(), "c1", "key1", 0, nil, "image/png")
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestSaveRejectsTraversalCampaign(t *testing.T) {
	assets, _ := newTestStore(t)
	if _, err := assets.Save(context.Background(), "../escape", "key1", 0, []byte("x"), "image/png"); err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestResolve(t *testing.T) {
	assets, _ := newTestStore(t)
	saved, err := assets.Save(context.Background(), "c1", "key1", 0, []byte("payload"), "image/png")
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}

	path, mimeType, err := assets.Resolve("c1", saved.Filename)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if path != saved.FilePath {
		t.Fatalf("expected %q, got %q", saved.FilePath, path)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", mimeType)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	assets, _ := newTestStore(t)
	cases := []struct{ campaign, filename string }{
		{"c1", "../secret.png"},
		{"c1", "..\\secret.png"},
		{"c1", "nested/secret.png"},
		{"..", "curr_key1_0.png"},
		{"c1", ".."},
		{"c1", ""},
	}
	for _, tc := range cases {
		if _, _, err := assets.Resolve(tc.campaign, tc.filename); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Resolve(%q, %q): expected not found, got %v", tc.campaign, tc.filename, err)
		}
	}
}

func TestResolveMissingFile(t *testing.T) {
	assets, _ := newTestStore(t)
	if _, _, err := assets.Resolve("c1", "curr_missing_0.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCleanupHistoricalIdempotent(t *testing.T) {
	assets, _ := newTestStore(t)
	ctx := context.Background()

	// Two generations for the same key leave one historical file behind.
	if _, err := assets.Save(ctx, "c1", "key1", 0, []byte("one"), "image/png"); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := assets.Save(ctx, "c1", "key1", 0, []byte("two"), "image/png"); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := assets.Save(ctx, "c2", "key2", 0, []byte("other"), "video/mp4"); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	removed, err := assets.CleanupHistorical("")
	if err != nil {
		t.Fatalf("CleanupHistorical error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	removed, err = assets.CleanupHistorical("")
	if err != nil {
		t.Fatalf("second CleanupHistorical error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected cleanup to be a no-op, removed %d", removed)
	}

	// Current assets survive both passes.
	if _, _, err := assets.Resolve("c1", "curr_key1_0.png"); err != nil {
		t.Fatalf("current asset removed by cleanup: %v", err)
	}
	if _, _, err := assets.Resolve("c2", "curr_key2_0.mp4"); err != nil {
		t.Fatalf("current asset removed by cleanup: %v", err)
	}
}

func TestCleanupHistoricalScopedToCampaign(t *testing.T) {
	assets, _ := newTestStore(t)
	ctx := context.Background()
	for _, campaign := range []string{"c1", "c2"} {
		if _, err := assets.Save(ctx, campaign, "key", 0, []byte("one"), "image/png"); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if _, err := assets.Save(ctx, campaign, "key", 0, []byte("two"), "image/png"); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	removed, err := assets.CleanupHistorical("c1")
	if err != nil {
		t.Fatalf("CleanupHistorical error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed for c1, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(assets.BasePath(), "c2", "key_0.png")); err != nil {
		t.Fatalf("c2 historical must be untouched: %v", err)
	}
}

func TestRemoveCampaign(t *testing.T) {
	assets, index := newTestStore(t)
	ctx := context.Background()
	if _, err := assets.Save(ctx, "c1", "key1", 0, []byte("one"), "image/png"); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := assets.RemoveCampaign("c1"); err != nil {
		t.Fatalf("RemoveCampaign error: %v", err)
	}
	if _, ok := index.Lookup("key1"); ok {
		t.Fatal("index entry must be gone after teardown")
	}
	if _, err := os.Stat(filepath.Join(assets.BasePath(), "c1")); !os.IsNotExist(err) {
		t.Fatal("campaign directory must be gone after teardown")
	}
}

func TestScanCurrent(t *testing.T) {
	assets, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := assets.Save(ctx, "c1", "aabbcc", 2, []byte("img"), "image/png"); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := assets.Save(ctx, "c1", "ddeeff", 0, []byte("vid"), "video/mp4"); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	// A historical file must not appear in the scan.
	if _, err := assets.Save(ctx, "c1", "aabbcc", 2, []byte("img2"), "image/png"); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	scanned, err := assets.ScanCurrent()
	if err != nil {
		t.Fatalf("ScanCurrent error: %v", err)
	}
	if len(scanned) != 2 {
		t.Fatalf("expected 2 current assets, got %d", len(scanned))
	}
	byKey := make(map[string]int)
	for _, asset := range scanned {
		byKey[asset.CacheKey] = asset.VariantIndex
		if !asset.IsCurrent {
			t.Fatalf("scanned asset not marked current: %+v", asset)
		}
	}
	if byKey["aabbcc"] != 2 {
		t.Fatalf("expected variant 2 for aabbcc, got %d", byKey["aabbcc"])
	}
	if byKey["ddeeff"] != 0 {
		t.Fatalf("expected variant 0 for ddeeff, got %d", byKey["ddeeff"])
	}
}

func TestParseAssetName(t *testing.T) {
	key, variant, ok := parseAssetName("curr_deadbeef_3.png")
	if !ok || key != "deadbeef" || variant != 3 {
		t.Fatalf("unexpected parse result: %q %d %v", key, variant, ok)
	}
	if _, _, ok := parseAssetName("curr_noseparator.png"); ok {
		t.Fatal("expected parse failure without variant suffix")
	}
	if _, _, ok := parseAssetName("curr__1.png"); ok {
		t.Fatal("expected parse failure on empty key")
	}
}

func TestMIMEMapping(t *testing.T) {
	if ext := ExtensionForMIME("image/png"); ext != ".png" {
		t.Fatalf("expected .png, got %q", ext)
	}
	if ext := ExtensionForMIME("video/mp4"); ext != ".mp4" {
		t.Fatalf("expected .mp4, got %q", ext)
	}
	if ext := ExtensionForMIME("application/x-unknown"); ext != ".bin" {
		t.Fatalf("expected .bin, got %q", ext)
	}
	if mime := MIMEForExtension(".mp4"); mime != "video/mp4" {
		t.Fatalf("expected video/mp4, got %q", mime)
	}
	if mime := MIMEForExtension(".weird"); mime != "application/octet-stream" {
		t.Fatalf("expected octet-stream, got %q", mime)
	}
}
