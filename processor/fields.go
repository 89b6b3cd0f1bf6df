package processor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"cseflow/models"
)

// Alias lists the raw keys that can carry a canonical field, in lookup order.
// With SkipFalsy set, zero, false, empty strings and empty containers count as
// absent and the lookup moves on to the next key. SkipFalsyFallback applies
// the same rule to every key but the first.
type Alias struct {
	Keys              []string
	SkipFalsy         bool
	SkipFalsyFallback bool
}

// Synonyms is the single table mapping canonical columns to raw record keys.
var Synonyms = map[string]Alias{
	"trade_date": {Keys: []string{"tradeDate", "d", "date"}, SkipFalsy: true},
	"open":       {Keys: []string{"open"}},
	"high":       {Keys: []string{"high"}},
	"low":        {Keys: []string{"low"}},
	// "v" is the value key of the older chart payloads; kept so those dumps
	// still produce a close.
	"close":        {Keys: []string{"close", "v"}, SkipFalsyFallback: true},
	"turnover":     {Keys: []string{"turnover"}},
	"share_volume": {Keys: []string{"shareVolume"}},
	"trade_volume": {Keys: []string{"tradeVolume"}},
}

// Lookup returns the first usable value for field in rec.
func Lookup(rec *Object, field string) (interface{}, bool) {
	alias, ok := Synonyms[field]
	if !ok {
		return nil, false
	}
	for i, k := range alias.Keys {
		v, present := rec.Get(k)
		if !present || v == nil {
			continue
		}
		if (alias.SkipFalsy || (alias.SkipFalsyFallback && i > 0)) && isFalsy(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isFalsy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case []interface{}:
		return len(t) == 0
	case *Object:
		return t.Len() == 0
	}
	return false
}

// EpochMillisDate converts an epoch-milliseconds value to its UTC calendar
// date. Integers, floats (truncated) and integer strings are accepted.
func EpochMillisDate(v interface{}) (time.Time, bool) {
	var ms int64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			ms = i
		} else {
			f, err := t.Float64()
			if err != nil || !fitsInt64(f) {
				return time.Time{}, false
			}
			ms = int64(f)
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		ms = i
	default:
		return time.Time{}, false
	}

	ts := time.UnixMilli(ms).UTC()
	if y := ts.Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return models.Day(ts), true
}

func fitsInt64(f float64) bool {
	return !math.IsNaN(f) && f >= math.MinInt64 && f < math.MaxInt64
}

// CoerceFloat turns a raw value into a nullable float; anything that is not
// a finite number becomes null.
func CoerceFloat(v interface{}) null.Float {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return null.Float{}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return null.Float{}
		}
		f = parsed
	default:
		return null.Float{}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

// CoerceInt turns a raw value into a nullable integer. Non-integral numbers
// become null.
func CoerceInt(v interface{}) null.Int {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return null.Int{}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return null.IntFrom(i)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || !fitsInt64(f) {
		return null.Int{}
	}
	return null.IntFrom(int64(f))
}

// RecordDate resolves the trade date of a raw record.
func RecordDate(rec *Object) (time.Time, bool) {
	v, ok := Lookup(rec, "trade_date")
	if !ok {
		return time.Time{}, false
	}
	return EpochMillisDate(v)
}

// BuildRow maps one raw record onto the canonical schema. The trade date is
// the zero time when it cannot be resolved.
func BuildRow(ticker string, rec *Object) models.PriceRow {
	row := models.PriceRow{Ticker: ticker}
	if d, ok := RecordDate(rec); ok {
		row.TradeDate = d
	}
	floatField := func(name string) null.Float {
		v, _ := Lookup(rec, name)
		return CoerceFloat(v)
	}
	intField := func(name string) null.Int {
		v, _ := Lookup(rec, name)
		return CoerceInt(v)
	}
	row.Open = floatField("open")
	row.High = floatField("high")
	row.Low = floatField("low")
	row.Close = floatField("close")
	row.Turnover = floatField("turnover")
	row.ShareVolume = intField("share_volume")
	row.TradeVolume = intField("trade_volume")
	return row
}

// DateRange returns the earliest and latest parseable trade dates among the
// object records; both are zero when none parse.
func DateRange(records []interface{}) (start, end time.Time) {
	for _, r := range records {
		rec, ok := r.(*Object)
		if !ok {
			continue
		}
		d, ok := RecordDate(rec)
		if !ok {
			continue
		}
		if start.IsZero() || d.Before(start) {
			start = d
		}
		if end.IsZero() || d.After(end) {
			end = d
		}
	}
	return start, end
}
