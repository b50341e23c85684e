// Package bid holds the canonical shape of one procurement notice.
//
// Records keep every field the source feed sent, under the feed's own names,
// so the persisted collection round-trips exactly. The typed fields below are
// the ones bidwatch makes decisions on or displays.
package bid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Wire names used by the G2B feed.
const (
	FieldID       = "bidNtceNo"
	FieldTitle    = "bidNtceNm"
	FieldAgency   = "dminsttNm"
	FieldRegion   = "prtcptPsblRgnNm"
	FieldDeadline = "bidPsNtceEndDt"
	FieldBudget   = "bdgtAmt"
	FieldLink     = "link"
)

// DetailBaseURL is the G2B notice page; the notice id is appended as bidno.
const DetailBaseURL = "https://www.g2b.go.kr:8101/ep/invitation/publish/bidInfoDtl.do"

var ErrMissingID = errors.New("bid: record has no " + FieldID)

// Raw is one item as decoded from the feed, before any interpretation.
type Raw map[string]json.RawMessage

// Record is one notice.
type Record struct {
	ID           string
	Title        string
	Agency       string
	Region       string
	Deadline     string
	BudgetAmount string
	DetailURL    string

	// Extra holds feed fields bidwatch does not interpret.
	Extra map[string]json.RawMessage

	// orig holds the feed's encoding of the typed fields it sent, so a
	// numeric bdgtAmt stays a number when written back.
	orig map[string]json.RawMessage
}

var knownFields = map[string]struct{}{
	FieldID: {}, FieldTitle: {}, FieldAgency: {}, FieldRegion: {},
	FieldDeadline: {}, FieldBudget: {}, FieldLink: {},
}

// Decode builds a Record from a raw feed item. DetailURL is left as found
// (normally empty); Accept derives it.
func Decode(raw Raw) (Record, error) {
	var r Record
	var err error
	get := func(key string) string {
		v, ok := raw[key]
		if !ok || err != nil {
			return ""
		}
		s, e := scalarString(v)
		if e != nil {
			err = fmt.Errorf("bid: field %s: %w", key, e)
		}
		return s
	}

	r.ID = get(FieldID)
	r.Title = get(FieldTitle)
	r.Agency = get(FieldAgency)
	r.Region = get(FieldRegion)
	r.Deadline = get(FieldDeadline)
	r.BudgetAmount = get(FieldBudget)
	r.DetailURL = get(FieldLink)
	if err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(r.ID) == "" {
		return Record{}, ErrMissingID
	}

	for k, v := range raw {
		if _, ok := knownFields[k]; ok {
			if r.orig == nil {
				r.orig = make(map[string]json.RawMessage, len(knownFields))
			}
			r.orig[k] = append(json.RawMessage(nil), v...)
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return r, nil
}

// Accept returns a copy with DetailURL derived from ID. It is called once,
// when the record first passes the filter and identity check.
func (r Record) Accept() Record {
	r.DetailURL = DetailURL(r.ID)
	return r
}

// DetailURL derives the notice page URL for an id.
func DetailURL(id string) string {
	return DetailBaseURL + "?bidno=" + id
}

// RegionOrDefault returns Region, or "전국" (nationwide) when empty.
func (r Record) RegionOrDefault() string {
	if strings.TrimSpace(r.Region) == "" {
		return Nationwide
	}
	return r.Region
}

// Nationwide is shown for notices without a region restriction.
const Nationwide = "전국"

func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		m[k] = v
	}
	r.putKnown(m, FieldID, r.ID)
	r.putKnown(m, FieldTitle, r.Title)
	r.putKnown(m, FieldAgency, r.Agency)
	r.putKnown(m, FieldRegion, r.Region)
	r.putKnown(m, FieldDeadline, r.Deadline)
	r.putKnown(m, FieldBudget, r.BudgetAmount)
	r.putKnown(m, FieldLink, r.DetailURL)

	// encoding/json sorts map keys; keep that so the file diffs cleanly.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalNoEscape(m[k])
		if err != nil {
			return nil, fmt.Errorf("bid: field %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// putKnown writes a typed field. The feed's own encoding wins while the
// value is unchanged; a field the feed never sent is written only if set.
func (r Record) putKnown(m map[string]any, key, val string) {
	if o, ok := r.orig[key]; ok {
		if s, err := scalarString(o); err == nil && s == val {
			m[key] = o
			return
		}
	}
	if _, ok := r.orig[key]; ok || val != "" {
		m[key] = val
	}
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw Raw
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rec, err := Decode(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// marshalNoEscape keeps Hangul and '&' readable in the persisted file.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// scalarString reads a JSON string, number, bool or null as display text.
func scalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("expected scalar, got %c", v[0])
	default:
		return string(v), nil
	}
}
