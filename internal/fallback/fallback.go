// Package fallback holds the catalog served when neither the remote feed nor
// local persistence has anything usable.
package fallback

import "smartdeals/internal/model"

var seed = []model.RawProduct{
	{
		Title:         "Echo Dot (5th Gen) Smart Speaker with Alexa",
		Price:         "$49.99",
		OriginalPrice: "$59.99",
		Image:         "https://m.media-amazon.com/images/I/71xoR4A6q-L._AC_SL1000_.jpg",
		Link:          "https://amzn.to/3EchoDot5",
		Category:      "electronics",
		Rating:        4.7,
		Reviews:       "1,204",
		Features:      []any{"Improved audio", "Built-in temperature sensor", "Smart home hub"},
		Featured:      true,
	},
	{
		Title:         "Kindle Paperwhite 16GB",
		Price:         "$139.99",
		OriginalPrice: "$159.99",
		Image:         "https://m.media-amazon.com/images/I/61PHFKYpiIL._AC_SL1000_.jpg",
		Link:          "https://amzn.to/3KindlePW",
		Category:      "electronics",
		Rating:        4.8,
		Reviews:       812,
		Features:      "6.8 inch display\nAdjustable warm light\nWeeks of battery",
		Featured:      true,
	},
	{
		Title:         "Anker PowerCore 10000 Portable Charger",
		Price:         "$21.99",
		OriginalPrice: "$29.99",
		Image:         "https://m.media-amazon.com/images/I/61-vbpGd0xL._AC_SL1500_.jpg",
		Link:          "https://amzn.to/3AnkerPC10",
		Category:      "accessories",
		Rating:        4.6,
		Reviews:       2390,
		Features:      []any{"Pocket size", "High-speed charging"},
	},
	{
		Title:         "Instant Pot Duo 7-in-1 Electric Pressure Cooker",
		Price:         "$79.95",
		OriginalPrice: "$99.95",
		Image:         "https://m.media-amazon.com/images/I/71V1LrY1MSL._AC_SL1500_.jpg",
		Link:          "https://amzn.to/3InstantDuo",
		Category:      "home & kitchen",
		Rating:        4.7,
		Reviews:       "5,031",
		Features:      "Pressure cook, Slow cook, Saute, Steam",
		Featured:      "true",
	},
	{
		Name:          "Logitech MX Master 3S Wireless Mouse",
		Price:         99.99,
		OriginalPrice: 109.99,
		Image:         "https://m.media-amazon.com/images/I/61ni3t1ryQL._AC_SL1500_.jpg",
		Link:          "https://amzn.to/3MXMaster3S",
		Category:      "computers",
		Rating:        "4.8",
		Reviews:       640,
	},
	{
		Title:         "Fitbit Charge 6 Fitness Tracker",
		Price:         "$129.95",
		OriginalPrice: "$159.95",
		Image:         "https://m.media-amazon.com/images/I/61ZjlBOp+rL._AC_SL1500_.jpg",
		Link:          "https://amzn.to/3FitbitC6",
		Category:      "health",
		Rating:        4.3,
		Reviews:       377,
		Features:      []any{"Heart rate tracking", "Built-in GPS", "7 day battery"},
	},
	{
		Title:    "Hydro Flask 32 oz Wide Mouth Bottle",
		Price:    "$44.95",
		Image:    "https://m.media-amazon.com/images/I/61Xz9C1QjzL._AC_SL1500_.jpg",
		Link:     "https://amzn.to/3HydroFlask32",
		Category: "sports & outdoors",
		Rating:   4.8,
		Reviews:  "9,870",
	},
	{
		Title:         "Sony WH-1000XM5 Noise Canceling Headphones",
		Price:         "$328.00",
		OriginalPrice: "$399.99",
		Image:         "https://m.media-amazon.com/images/I/51aXvjzcukL._AC_SL1500_.jpg",
		Link:          "https://amzn.to/3SonyXM5",
		Category:      "electronics",
		Rating:        4.5,
		Reviews:       1533,
		Features:      []any{"Industry leading noise canceling", "30 hour battery", "Multipoint"},
		Featured:      true,
	},
}

// Catalog returns a fresh copy of the fallback records. None carries an id,
// so ids come from the configured id mode.
func Catalog() []model.RawProduct {
	out := make([]model.RawProduct, len(seed))
	copy(out, seed)
	for i := range out {
		if fs, ok := out[i].Features.([]any); ok {
			out[i].Features = append([]any(nil), fs...)
		}
	}
	return out
}
