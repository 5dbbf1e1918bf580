package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// MakeKey derives the deterministic cache key for one generated variant.
// Identical (campaignID, prompt, model, variantIndex) tuples always map to the
// same key; distinct variant indices always produce distinct keys so that a
// request for N variants yields N different assets rather than N copies.
func MakeKey(campaignID, prompt, model string, variantIndex int) string {
	h := xxhash.New()
	_, _ = h.WriteString(strings.TrimSpace(campaignID))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strings.ToLower(strings.TrimSpace(model)))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(NormalizePrompt(prompt))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.Itoa(variantIndex))
	return strconv.FormatUint(h.Sum64(), 16)
}

// NormalizePrompt canonicalizes a prompt before hashing: NFC normalization,
// lowercasing, and whitespace collapsing, so trivially different spellings of
// the same prompt hit the same cache entry.
func NormalizePrompt(prompt string) string {
	normalized := norm.NFC.String(prompt)
	fields := strings.Fields(strings.ToLower(normalized))
	return strings.Join(fields, " ")
}
