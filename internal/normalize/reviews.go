package normalize

import (
	"math"
	"strconv"
	"time"

	"smartdeals/internal/model"
)

const maxSynthesizedReviews = 3

var reviewerNames = []string{
	"Sarah M.", "Mike R.", "Jennifer L.", "David K.", "Lisa P.",
	"James W.", "Emily S.", "Robert T.", "Amanda C.", "Chris B.",
}

var reviewComments = []string{
	"Great value for the price. Does exactly what it says.",
	"Arrived quickly and works perfectly. Would buy again.",
	"Solid quality, better than I expected at this price point.",
	"Exactly as described. Setup took a couple of minutes.",
	"Bought this as a gift and they love it.",
	"Good product overall, packaging could be better.",
	"Using it daily for weeks now with no complaints.",
}

const defaultReviewer = "Verified Buyer"

// buildReviews normalizes supplied reviews or, when none are supplied,
// synthesizes up to three from the product id so the result is stable.
func buildReviews(raw []model.RawReview, p model.Product, created, now time.Time) []model.Review {
	base := int(math.Round(p.Rating))
	if len(raw) > 0 {
		out := make([]model.Review, 0, len(raw))
		for _, rr := range raw {
			name := rr.Reviewer.Trimmed()
			if name == "" {
				name = rr.Name.Trimmed()
			}
			comment := rr.Comment.Trimmed()
			if comment == "" {
				comment = rr.Text.Trimmed()
			}
			stars := base
			if f, ok := parseNumber(rr.Rating); ok {
				stars = int(math.Round(f))
			}
			date := created
			if rr.Date.Kind != model.TimestampMissing {
				date = ResolveTime(rr.Date, now)
			}
			out = append(out, model.Review{
				Reviewer: orDefault(name, defaultReviewer),
				Rating:   clampStars(stars),
				Comment:  comment,
				Date:     FormatTime(date),
			})
		}
		return out
	}

	n := p.Reviews
	if n > maxSynthesizedReviews {
		n = maxSynthesizedReviews
	}
	out := make([]model.Review, 0, n)
	seed := seedFor(p.ID)
	for i := 0; i < n; i++ {
		stars := base
		if i == n-1 && n == maxSynthesizedReviews {
			stars--
		}
		out = append(out, model.Review{
			Reviewer: reviewerNames[(seed+i)%len(reviewerNames)],
			Rating:   clampStars(stars),
			Comment:  reviewComments[(seed+i*3)%len(reviewComments)],
			Date:     FormatTime(created.AddDate(0, 0, -3*(i+1))),
		})
	}
	return out
}

func seedFor(id string) int {
	v, err := strconv.ParseInt(ContentHash(id), 36, 64)
	if err != nil {
		return 0
	}
	return int(v % 1000003)
}

func clampStars(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}
