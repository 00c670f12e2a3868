package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"smartdeals/internal/model"
)

// IDMode selects how ids are derived for records that arrive without one.
type IDMode string

const (
	// IDContent derives the id from content only: prod_<hash>.
	IDContent IDMode = "content"
	// IDSalted appends the batch time: prod_<hash>_<time>. Re-importing the
	// same content at a later time yields a different id.
	IDSalted IDMode = "salted"
)

// ParseIDMode accepts "content" or "salted" (case-insensitive).
func ParseIDMode(s string) (IDMode, error) {
	switch IDMode(strings.ToLower(strings.TrimSpace(s))) {
	case IDContent, "":
		return IDContent, nil
	case IDSalted:
		return IDSalted, nil
	}
	return "", fmt.Errorf("unknown id mode %q", s)
}

// ContentKey concatenates the fields that identify a record's content.
func ContentKey(r model.RawProduct) string {
	return r.DisplayName() + r.Link.Trimmed() + r.Category.Trimmed() + looseText(r.Price)
}

// ContentHash is the 32-bit multiply-by-31 rolling hash over the UTF-16 code
// units of key, rendered base-36 from its absolute value.
func ContentHash(key string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(key)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// AssignID returns the record's own id when present, otherwise one derived
// from its content (and, in salted mode, from at).
func AssignID(r model.RawProduct, mode IDMode, at time.Time) string {
	if id := r.ID.Trimmed(); id != "" {
		return id
	}
	id := "prod_" + ContentHash(ContentKey(r))
	if mode == IDSalted {
		id += "_" + strconv.FormatInt(at.UnixMilli(), 36)
	}
	return id
}
