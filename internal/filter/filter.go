// Package filter decides whether a notice is worth keeping.
//
// Matching is plain case-sensitive substring search on the raw title and
// region text. Negative keywords win over positive keywords, which win over
// region matching. An empty region never causes a rejection.
package filter

import "strings"

// Config lists the keyword sets. All three are supplied by configuration.
type Config struct {
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	TargetRegions    []string `json:"target_regions"`
}

// Default returns the stock keyword sets: video and
// promotion production work in the Seoul / Gyeonggi area.
func Default() Config {
	return Config{
		PositiveKeywords: []string{"영상", "홍보", "콘텐츠", "기획", "미디어", "유튜브", "숏폼", "제작", "비디오", "모션", "촬영"},
		NegativeKeywords: []string{
			"인터넷제작", "홈페이지", "웹사이트", "신문", "정기발행", "인쇄", "출판",
			"유지보수", "공사", "건설", "폐기물", "청소", "급식", "구매",
		},
		TargetRegions: []string{"경기", "구리", "남양주", "서울"},
	}
}

// Reason names why a notice was rejected.
type Reason string

const (
	Accepted          Reason = ""
	NegativeKeyword   Reason = "negative_keyword"
	NoPositiveKeyword Reason = "no_positive_keyword"
	RegionMismatch    Reason = "region_mismatch"
)

// Verdict is the outcome of Explain. Match holds the negative keyword that
// caused a rejection, or the positive keyword that let the title through.
type Verdict struct {
	Reason Reason
	Match  string
}

func (v Verdict) Accepted() bool { return v.Reason == Accepted }

// Filter is immutable after New and safe for concurrent use.
type Filter struct {
	positive []string
	negative []string
	regions  []string
}

func New(cfg Config) *Filter {
	return &Filter{
		positive: clean(cfg.PositiveKeywords),
		negative: clean(cfg.NegativeKeywords),
		regions:  clean(cfg.TargetRegions),
	}
}

// IsRelevant reports whether a notice with this title and region is kept.
func (f *Filter) IsRelevant(title, region string) bool {
	return f.Explain(title, region).Accepted()
}

// Explain is IsRelevant with the reason attached.
func (f *Filter) Explain(title, region string) Verdict {
	if kw, ok := containsAny(title, f.negative); ok {
		return Verdict{Reason: NegativeKeyword, Match: kw}
	}
	pos, ok := containsAny(title, f.positive)
	if !ok {
		return Verdict{Reason: NoPositiveKeyword}
	}
	if region != "" {
		if _, ok := containsAny(region, f.regions); !ok {
			return Verdict{Reason: RegionMismatch, Match: pos}
		}
	}
	return Verdict{Reason: Accepted, Match: pos}
}

func containsAny(s string, subs []string) (string, bool) {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return sub, true
		}
	}
	return "", false
}

// clean drops empty entries: "" is a substring of every string.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
