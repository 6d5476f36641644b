package extraction

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var normalizers = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// normalize folds compatibility forms before pattern matching: no-break
// spaces become plain spaces, м² becomes м2, fullwidth digits become ASCII
// and zero-width characters are dropped. Case is kept for name matching.
func normalize(s string) string {
	s = strings.ToValidUTF8(s, "")

	t := normalizers.Get().(transform.Transformer)
	defer normalizers.Put(t)

	t.Reset()

	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}

	return out
}
