// Command genfeed writes messy raw product feeds for demos and local runs.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"smartdeals/internal/logging"
)

var (
	nouns      = []string{"Smart Speaker", "Wireless Earbuds", "Air Fryer", "Desk Lamp", "Yoga Mat", "Backpack", "Coffee Grinder", "Phone Stand", "Water Bottle", "Keyboard"}
	brands     = []string{"Anker", "Sony", "Ninja", "Philips", "Gaiam", "Osprey", "Baratza", "Lamicall", "Hydro Flask", "Keychron"}
	categories = []string{"Electronics", "home & kitchen", " Sports ", "computers", "", "ACCESSORIES"}
	features   = []string{"Fast charging", "Compact", "Eco friendly", "2 year warranty", "Dishwasher safe", "Bluetooth 5.3"}
)

// columns is the spreadsheet header, in record field order.
var columns = []string{"id", "title", "name", "price", "originalPrice", "image", "link", "category", "rating", "reviews", "discount", "features", "featured", "createdAt"}

func main() {
	var (
		count     int
		seed      int64
		demoRatio float64
		format    string
		output    string
	)
	flag.IntVar(&count, "count", 50, "number of records to generate")
	flag.Int64Var(&seed, "seed", 1, "random seed")
	flag.Float64Var(&demoRatio, "demo-ratio", 0.1, "share of placeholder records")
	flag.StringVar(&format, "format", "json", "output format: json|jsonl|xlsx")
	flag.StringVar(&output, "output", "feed.json", "output file")
	flag.Parse()

	log, err := logging.Setup("genfeed", "info", "console")
	if err != nil {
		zlog.Fatal().Err(err).Msg("logging")
	}
	records := generate(rand.New(rand.NewSource(seed)), count, demoRatio, time.Now().UTC())
	if err := write(records, format, output); err != nil {
		log.Fatal().Err(err).Msg("generation failed")
	}
	log.Info().Int("count", count).Str("format", format).Str("output", output).Msg("feed written")
}

func generate(rng *rand.Rand, count int, demoRatio float64, base time.Time) []map[string]any {
	out := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		if rng.Float64() < demoRatio {
			out = append(out, map[string]any{
				"id":    fmt.Sprintf("demo_%d", i+1),
				"name":  "Demo Product",
				"price": "$0",
				"link":  "#",
			})
			continue
		}
		brand := brands[rng.Intn(len(brands))]
		title := brand + " " + nouns[rng.Intn(len(nouns))]
		price := 5 + rng.Float64()*1500
		r := map[string]any{
			"price": messyPrice(rng, price),
			"image": fmt.Sprintf("https://m.media-amazon.com/images/I/%08x.jpg", rng.Uint32()),
			"link":  fmt.Sprintf("https://amzn.to/%x", rng.Uint32()),
		}
		if rng.Intn(2) == 0 {
			r["title"] = title
		} else {
			r["name"] = title
		}
		if rng.Intn(3) == 0 {
			r["id"] = fmt.Sprintf("sku-%d", 1000+i)
		}
		if c := categories[rng.Intn(len(categories))]; c != "" {
			r["category"] = c
		}
		if rng.Intn(2) == 0 {
			r["originalPrice"] = messyPrice(rng, price*(1.1+rng.Float64()*0.5))
		}
		switch rng.Intn(3) {
		case 0:
			r["rating"] = float64(30+rng.Intn(21)) / 10
		case 1:
			r["rating"] = fmt.Sprintf("%.1f out of 5", float64(30+rng.Intn(21))/10)
		}
		if rng.Intn(4) != 0 {
			r["reviews"] = fmt.Sprintf("%d", rng.Intn(20000))
		}
		if n := rng.Intn(4); n > 0 {
			picked := make([]string, 0, n)
			for j := 0; j < n; j++ {
				picked = append(picked, features[rng.Intn(len(features))])
			}
			if rng.Intn(2) == 0 {
				r["features"] = picked
			} else {
				r["features"] = strings.Join(picked, ", ")
			}
		}
		switch rng.Intn(4) {
		case 0:
			r["featured"] = true
		case 1:
			r["featured"] = "false"
		}
		r["createdAt"] = messyTime(rng, base.Add(-time.Duration(i)*time.Hour))
		out = append(out, r)
	}
	return out
}

func messyPrice(rng *rand.Rand, v float64) any {
	switch rng.Intn(5) {
	case 0:
		return v
	case 1:
		return fmt.Sprintf("$%.2f", v)
	case 2:
		return fmt.Sprintf("USD %.1f", v)
	case 3:
		return fmt.Sprintf("$%s", withThousands(v))
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func withThousands(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(intPart) > 3 {
		intPart = intPart[:len(intPart)-3] + "," + intPart[len(intPart)-3:]
	}
	return intPart + "." + frac
}

func messyTime(rng *rand.Rand, t time.Time) any {
	switch rng.Intn(5) {
	case 0:
		return t.Unix()
	case 1:
		return t.UnixMilli()
	case 2:
		return t.Format(time.RFC3339)
	case 3:
		return map[string]int64{"seconds": t.Unix(), "nanoseconds": int64(t.Nanosecond())}
	default:
		return nil
	}
}

func write(records []map[string]any, format, output string) error {
	switch format {
	case "json":
		b, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		return os.WriteFile(output, b, 0o644)
	case "jsonl":
		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		defer file.Close()
		enc := json.NewEncoder(file)
		for i, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode record %d: %w", i+1, err)
			}
		}
		return nil
	case "xlsx":
		return writeXLSX(records, output)
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeXLSX(records []map[string]any, output string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Products"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = cellText(r[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return f.SaveAs(output)
}

// cellText flattens a value for a spreadsheet cell. Backend timestamp
// objects become epoch seconds.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, "|")
	case map[string]int64:
		return fmt.Sprintf("%d", x["seconds"])
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
