package core

import (
	"bytes"

	"github.com/dhowden/tag"

	"github.com/meff-network/meff/internal/types"
)

// extractMetadata best-effort reads ID3/tag metadata out of a pushed
// audio blob. A read failure is not an error for the caller: the file
// is still stored, just without tags. Grounded on the tag.ReadFrom
// usage in arung-agamani-denpa-radio's playlist package.
func extractMetadata(data []byte) *types.Metadata {
	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return &types.Metadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
	}
}
