package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveAssetsRoundTrip(t *testing.T) {
	now := time.Now()
	data := ArchiveAssets([]Asset{
		{Filename: "curr_abc_0.png", Data: []byte("png-bytes"), Modified: now},
		{Filename: "curr_def_1.mp4", Data: []byte("mp4-bytes"), Modified: now},
	})

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive is not a valid zip: %v", err)
	}
	if len(reader.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(reader.File))
	}

	want := map[string]string{
		"curr_abc_0.png": "png-bytes",
		"curr_def_1.mp4": "mp4-bytes",
	}
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		if string(content) != want[f.Name] {
			t.Fatalf("entry %s: unexpected content %q", f.Name, content)
		}
	}
}

func TestArchiveAssetsEmpty(t *testing.T) {
	data := ArchiveAssets(nil)
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("empty archive must still be valid: %v", err)
	}
}
