package workflow

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	DefaultNegativePrompt = "text, watermark"
	DefaultWidth          = 512
	DefaultHeight         = 512
	DefaultSteps          = 15
	DefaultCFG            = 4.0
)

// Request is one generation request after coercion. Zero numeric fields mean "use the default".
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFG            float64
	Seed           *int64
}

// withDefaults returns a copy of r where every unset or non-positive field holds its default.
func (r Request) withDefaults() Request {
	if strings.TrimSpace(r.NegativePrompt) == "" {
		r.NegativePrompt = DefaultNegativePrompt
	}
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if r.Steps <= 0 {
		r.Steps = DefaultSteps
	}
	if r.CFG <= 0 || math.IsNaN(r.CFG) || math.IsInf(r.CFG, 0) {
		r.CFG = DefaultCFG
	}
	if r.Seed != nil && *r.Seed < 0 {
		r.Seed = nil
	}
	return r
}

// IntOr reads a loosely typed JSON number (or numeric string). Anything that is not
// a positive number yields def.
func IntOr(raw json.RawMessage, def int) int {
	f, ok := number(raw)
	if !ok || f < 1 || f > math.MaxInt32 {
		return def
	}
	return int(math.Trunc(f))
}

func FloatOr(raw json.RawMessage, def float64) float64 {
	f, ok := number(raw)
	if !ok || f <= 0 {
		return def
	}
	return f
}

// OptionalSeed returns nil for absent, null, negative or non-numeric input.
func OptionalSeed(raw json.RawMessage) *int64 {
	f, ok := number(raw)
	if !ok || f < 0 || f >= MaxSeed {
		return nil
	}
	seed := int64(math.Trunc(f))
	return &seed
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	v := gjson.ParseBytes(raw)
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
