package decode

import (
	"fmt"

	"github.com/vinadenenko/earth-map/internal/fetch"
)

// ForHint returns the decoder matching a fetch descriptor's hint.
func ForHint(hint fetch.DecodeHint) (Decoder, error) {
	switch hint {
	case fetch.HintRaster, "":
		return NewVipsDecoder(), nil
	case fetch.HintVector:
		return NewGeoJSONDecoder(), nil
	default:
		return nil, fmt.Errorf("unknown decode hint: %s", hint)
	}
}
