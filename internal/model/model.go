package model

// RawProduct is an unvalidated product payload as delivered by a feed, the
// persisted cache or the fallback catalog. Loosely typed fields keep whatever
// the JSON decoder produced (string, float64, bool, []any, map[string]any).
type RawProduct struct {
	ID             FlexString  `json:"id,omitempty"`
	Title          FlexString  `json:"title,omitempty"`
	Name           FlexString  `json:"name,omitempty"`
	Price          any         `json:"price,omitempty"`
	OriginalPrice  any         `json:"originalPrice,omitempty"`
	Image          FlexString  `json:"image,omitempty"`
	Link           FlexString  `json:"link,omitempty"`
	Category       FlexString  `json:"category,omitempty"`
	Rating         any         `json:"rating,omitempty"`
	Reviews        any         `json:"reviews,omitempty"`
	Discount       any         `json:"discount,omitempty"`
	Features       any         `json:"features,omitempty"`
	Featured       any         `json:"featured,omitempty"`
	CreatedAt      Timestamp   `json:"createdAt"`
	ProductReviews []RawReview `json:"productReviews,omitempty"`
}

// DisplayName returns title, falling back to name.
func (r RawProduct) DisplayName() string {
	if t := r.Title.Trimmed(); t != "" {
		return t
	}
	return r.Name.Trimmed()
}

// RawReview is a supplied review entry attached to a raw product.
type RawReview struct {
	Reviewer FlexString `json:"reviewer,omitempty"`
	Name     FlexString `json:"name,omitempty"`
	Rating   any        `json:"rating,omitempty"`
	Comment  FlexString `json:"comment,omitempty"`
	Text     FlexString `json:"text,omitempty"`
	Date     Timestamp  `json:"date"`
}

// Product is the normalized, display-ready record held by the catalog cache.
type Product struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Price          string   `json:"price"`
	OriginalPrice  string   `json:"originalPrice"`
	Image          string   `json:"image"`
	Link           string   `json:"link"`
	Category       string   `json:"category"`
	Rating         float64  `json:"rating"`
	Reviews        int      `json:"reviews"`
	Discount       int      `json:"discount"`
	Features       []string `json:"features"`
	Featured       bool     `json:"featured"`
	CreatedAt      string   `json:"createdAt"`
	ProductReviews []Review `json:"productReviews"`
}

// Review is a single normalized review entry.
type Review struct {
	Reviewer string `json:"reviewer"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
	Date     string `json:"date"`
}

// Clone returns a copy that shares no slices with p.
func (p Product) Clone() Product {
	out := p
	out.Features = append(make([]string, 0, len(p.Features)), p.Features...)
	out.ProductReviews = append(make([]Review, 0, len(p.ProductReviews)), p.ProductReviews...)
	return out
}
