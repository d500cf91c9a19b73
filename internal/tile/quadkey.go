package tile

import "fmt"

// Quadkey encodes the key as a base-4 digit string, one digit per
// level, most significant level first. Digit = col bit | row bit << 1.
// The root encodes as the empty string.
func (k Key) Quadkey() string {
	if k.Level == 0 {
		return ""
	}
	buf := make([]byte, k.Level)
	for i := uint32(0); i < k.Level; i++ {
		shift := k.Level - i - 1
		d := byte((k.Col>>shift)&1) | byte((k.Row>>shift)&1)<<1
		buf[i] = '0' + d
	}
	return string(buf)
}

// FromQuadkey parses a base-4 digit string back into a Key.
func FromQuadkey(s string) (Key, error) {
	if len(s) > MaxLevel {
		return Key{}, fmt.Errorf("%w: quadkey too long", ErrInvalidKey)
	}
	var k Key
	for _, c := range s {
		if c < '0' || c > '3' {
			return Key{}, fmt.Errorf("%w: quadkey digit %q", ErrInvalidKey, c)
		}
		d := uint32(c - '0')
		k.Level++
		k.Col = k.Col<<1 | d&1
		k.Row = k.Row<<1 | d>>1
	}
	return k, nil
}
