// Package validate inspects raw plant payloads before anything touches the
// store. Payloads stay as generic maps on purpose: the upstream API has
// drifted field sets over time, and map inspection reports exactly which
// fields are absent instead of silently zeroing a struct.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is one raw plant payload as decoded from the API.
type Record = map[string]any

// requiredTopLevel are the fields every loadable payload must carry.
var requiredTopLevel = []string{
	"plant_id", "name", "temperature", "origin_location", "botanist",
	"last_watered", "soil_moisture", "recording_taken",
}

var requiredLocation = []string{"latitude", "longitude", "country", "city"}
var requiredBotanist = []string{"name", "email", "phone"}

// Report partitions problem fields into absent keys and present-but-empty
// values. The two lists never overlap: a field lands in exactly one.
type Report struct {
	MissingKeys   []string
	MissingValues []string
}

// Empty reports whether the check found nothing wrong.
func (r Report) Empty() bool {
	return len(r.MissingKeys) == 0 && len(r.MissingValues) == 0
}

// emptyValue decides what counts as "present but empty": JSON null and the
// empty string. Zero numbers are legitimate sensor values and stay valid.
func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// checkRequired partitions the required fields of one object.
func checkRequired(data map[string]any, required []string) Report {
	var rep Report
	for _, key := range required {
		v, ok := data[key]
		if !ok {
			rep.MissingKeys = append(rep.MissingKeys, key)
			continue
		}
		if emptyValue(v) {
			rep.MissingValues = append(rep.MissingValues, key)
		}
	}
	return rep
}

// CheckMissingKeys inspects the top-level required fields.
func CheckMissingKeys(rec Record) Report {
	return checkRequired(rec, requiredTopLevel)
}

// CheckLocationDetails inspects the nested origin_location object. A missing
// or non-object origin_location reports every location field as absent.
func CheckLocationDetails(rec Record) Report {
	nested, ok := rec["origin_location"].(map[string]any)
	if !ok {
		return Report{MissingKeys: append([]string(nil), requiredLocation...)}
	}
	return checkRequired(nested, requiredLocation)
}

// CheckBotanistDetails inspects the nested botanist object.
func CheckBotanistDetails(rec Record) Report {
	nested, ok := rec["botanist"].(map[string]any)
	if !ok {
		return Report{MissingKeys: append([]string(nil), requiredBotanist...)}
	}
	return checkRequired(nested, requiredBotanist)
}

// Validate runs the full check chain and returns human-readable issues; an
// empty slice means the record may be loaded.
//
// Policy: nested objects are only skipped when a top-level KEY is absent,
// since there is nothing to descend into. Top-level fields that are merely
// empty still let the nested checks run, so one pass reports as much as
// possible.
func Validate(rec Record) []string {
	var issues []string

	top := CheckMissingKeys(rec)
	if len(top.MissingValues) > 0 {
		issues = append(issues, fmt.Sprintf("empty values for required fields: %v", top.MissingValues))
	}
	if len(top.MissingKeys) > 0 {
		issues = append(issues, fmt.Sprintf("missing required fields: %v", top.MissingKeys))
		return issues
	}

	if loc := CheckLocationDetails(rec); !loc.Empty() {
		if len(loc.MissingKeys) > 0 {
			issues = append(issues, fmt.Sprintf("origin_location missing fields: %v", loc.MissingKeys))
		}
		if len(loc.MissingValues) > 0 {
			issues = append(issues, fmt.Sprintf("origin_location empty fields: %v", loc.MissingValues))
		}
	}
	if bot := CheckBotanistDetails(rec); !bot.Empty() {
		if len(bot.MissingKeys) > 0 {
			issues = append(issues, fmt.Sprintf("botanist missing fields: %v", bot.MissingKeys))
		}
		if len(bot.MissingValues) > 0 {
			issues = append(issues, fmt.Sprintf("botanist empty fields: %v", bot.MissingValues))
		}
	}

	return issues
}

// HasNullImagesKey reports an images field that is present but null. The
// upstream feed sometimes sends literal null instead of omitting the object;
// the loader then skips the image link rather than storing "null".
func HasNullImagesKey(rec Record) bool {
	v, ok := rec["images"]
	return ok && v == nil
}

// NegativeSoilMoisture flags a physically impossible moisture value. This is
// a lower-severity check than Validate: the record still loads, with a
// warning, because the rest of the sample is sound and the dry-soil alert
// path still wants the row.
func NegativeSoilMoisture(rec Record) bool {
	if v, ok := Numeric(rec["soil_moisture"]); ok {
		return v < 0
	}
	return false
}

// roundedFields are the numeric fields normalized to two decimals before
// load. Latitude and longitude live inside origin_location.
var roundedFields = []string{"temperature", "soil_moisture"}
var roundedLocationFields = []string{"latitude", "longitude"}

// RoundTo2DP normalizes the named numeric fields to two decimal places,
// leaving every other field untouched. Callers must only pass records that
// already passed Validate; rounding an invalid record would hide which raw
// value was at fault in the drop log.
func RoundTo2DP(rec Record) {
	for _, key := range roundedFields {
		if v, ok := Numeric(rec[key]); ok {
			rec[key] = round2(v)
		}
	}
	if loc, ok := rec["origin_location"].(map[string]any); ok {
		for _, key := range roundedLocationFields {
			if v, ok := Numeric(loc[key]); ok {
				loc[key] = round2(v)
			}
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Numeric widens the value representations the feed has used for numbers.
// Coordinates in particular have arrived both as JSON numbers and strings.
func Numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
