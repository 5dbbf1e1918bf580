package visual

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"server/internal/domain"
)

// renderSyntheticAsset produces a deterministic placeholder asset for the
// request. The same (seed, prompt, variant) always yields the same bytes,
// which keeps cache behavior observable without provider credentials.
func renderSyntheticAsset(req Request) Asset {
	seed := syntheticSeed(req.Seed, req.Prompt, req.VariantIndex)
	if req.ContentType == domain.ContentTypeVideo {
		return Asset{
			Data:     renderSyntheticVideo(seed, req.Prompt),
			MIMEType: "video/mp4",
			Width:    1920,
			Height:   1080,
		}
	}
	return Asset{
		Data:     renderSyntheticImage(640, 640, seed),
		MIMEType: "image/png",
		Width:    640,
		Height:   640,
	}
}

func syntheticSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func renderSyntheticImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := height / 8
	if stripeHeight < 16 {
		stripeHeight = 16
	}
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// renderSyntheticVideo emits a placeholder MP4: a valid ftyp box followed by
// seeded filler, enough for range-request and playback-header behavior to be
// exercised end to end.
func renderSyntheticVideo(seed, prompt string) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x20})
	buf.WriteString("ftypisom")
	buf.Write([]byte{0x00, 0x00, 0x02, 0x00})
	buf.WriteString("isomiso2mp41")

	filler := []byte(seed + "|" + strings.TrimSpace(prompt) + "|")
	for buf.Len() < 64*1024 {
		buf.Write(filler)
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "0f172a"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: parseHexByte(segment[0:2]),
		G: parseHexByte(segment[2:4]),
		B: parseHexByte(segment[4:6]),
		A: 255,
	}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}
