// soraq/pricing/pricing.go
package pricing

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Tier string

const (
	TierSora2    Tier = "sora-2"
	TierSora2Pro Tier = "sora-2-pro"
)

// Class is the named resolution tier used for price lookup. It is distinct
// from the literal pixel size sent to the provider.
type Class string

const (
	Class720p  Class = "720p"
	Class1080p Class = "1080p"
	Class1792p Class = "1792p"
)

// Markup is applied on top of the provider's per-second API rate.
const Markup = 2

// Durations lists the clip lengths, in seconds, the provider accepts.
var Durations = []int{4, 8, 12}

// Sizes maps every accepted "WIDTHxHEIGHT" string to its resolution class.
var Sizes = map[string]Class{
	"1280x720":  Class720p,
	"720x1280":  Class720p,
	"1920x1080": Class1080p,
	"1080x1920": Class1080p,
	"1792x1024": Class1792p,
	"1024x1792": Class1792p,
}

// apiRates is the provider's per-second cost. Pairs missing here have no
// published price.
var apiRates = map[Tier]map[Class]float64{
	TierSora2: {
		Class720p:  0.10,
		Class1080p: 0.10,
	},
	TierSora2Pro: {
		Class720p:  0.30,
		Class1080p: 0.50,
		Class1792p: 0.50,
	},
}

// Rate returns the marked-up per-second price for a tier and class.
func Rate(tier Tier, class Class) (float64, bool) {
	byClass, ok := apiRates[tier]
	if !ok {
		return 0, false
	}
	r, ok := byClass[class]
	if !ok {
		return 0, false
	}
	return r * Markup, true
}

// Cost returns rate × seconds rounded to four decimals. An unknown
// (tier, class) pair costs exactly zero so that pricing never blocks a
// generation.
func Cost(tier Tier, class Class, seconds int) float64 {
	r, ok := Rate(tier, class)
	if !ok || seconds <= 0 {
		return 0
	}
	return Round4(r * float64(seconds))
}

// CostForSize resolves the class for a pixel size and prices it.
func CostForSize(tier Tier, size string, seconds int) float64 {
	return Cost(tier, ClassForSize(size), seconds)
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// ClassForSize maps a pixel size to its resolution class. Sizes outside
// the known set fall into the cinematic class, matching the provider's
// largest tier.
func ClassForSize(size string) Class {
	if c, ok := Sizes[size]; ok {
		return c
	}
	return Class1792p
}

func ValidTier(t Tier) bool {
	_, ok := apiRates[t]
	return ok
}

func ValidDuration(seconds int) bool {
	for _, d := range Durations {
		if d == seconds {
			return true
		}
	}
	return false
}

func ValidSize(size string) bool {
	_, ok := Sizes[size]
	return ok
}

// ParseSize splits "WIDTHxHEIGHT" into positive integers.
func ParseSize(size string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(size), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", size)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in size %q", size)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in size %q", size)
	}
	return w, h, nil
}

// Line is one row of the public price list.
type Line struct {
	Tier      Tier    `json:"model"`
	Class     Class   `json:"resolution"`
	PerSecond float64 `json:"perSecond"`
}

// Display returns the price list sorted by tier then class.
func Display() []Line {
	var lines []Line
	for tier, byClass := range apiRates {
		for class := range byClass {
			r, _ := Rate(tier, class)
			lines = append(lines, Line{Tier: tier, Class: class, PerSecond: r})
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Tier != lines[j].Tier {
			return lines[i].Tier < lines[j].Tier
		}
		return classOrder(lines[i].Class) < classOrder(lines[j].Class)
	})
	return lines
}

func classOrder(c Class) int {
	switch c {
	case Class720p:
		return 0
	case Class1080p:
		return 1
	default:
		return 2
	}
}
