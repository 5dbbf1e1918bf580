package zip

import (
	"archive/zip"
	"bytes"
	"time"
)

// Asset is one entry for a campaign archive.
type Asset struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// ArchiveAssets packs the assets into a zip archive. Entries that cannot be
// written are skipped rather than failing the whole archive.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		header := &zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Deflate,
			Modified: asset.Modified,
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			continue
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
