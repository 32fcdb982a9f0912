package qc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var ErrInvalidResult = errors.New("qc result is malformed")

// CategoryOther is assigned to comments that arrive without a category.
const CategoryOther = "Other"

var legacyCategories = map[string]string{
	"COPYRIGHT":       "Copyright",
	"META_SAFE_SPACE": "SafeZone",
	"RENDER_ISSUE":    "Technical",
	"AUDIO":           "Audio",
	"VISUAL":          "Visual",
}

var (
	reIssueType      = regexp.MustCompile(`Issue Type:\s*(\w+)`)
	reObservation    = regexp.MustCompile(`Current Observation:\s*([^\n]+)`)
	reRecommendation = regexp.MustCompile(`Recommendation:\s*([^\n]+)`)
	reSeverity       = regexp.MustCompile(`Severity:\s*(\w+)`)
	reCurrentText    = regexp.MustCompile(`Current Text:\s*([^\n]+)`)
	reCorrection     = regexp.MustCompile(`Correction:\s*([^\n]+)`)
	reReason         = regexp.MustCompile(`Reason:\s*([^\n]+)`)
)

// Normalize converts any result payload the backend has ever produced into
// the canonical QCResult. Offsets are clamped to [0, durationSec] when the
// duration is known and comments come back in ascending offset order.
// An empty or null payload yields (nil, nil).
func Normalize(raw json.RawMessage, durationSec int) (*QCResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var res *QCResult
	switch trimmed[0] {
	case '[':
		var items []legacyItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
		}
		res = fromLegacy(items)
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
		}
		var err error
		res, err = fromObject(fields)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidResult
	}

	clampOffsets(res.Comments, durationSec)
	SortComments(res.Comments)
	if res.Summary.ByCategory == nil {
		res.Summary = Summarize(res.Comments)
	}
	return res, nil
}

type legacyItem struct {
	Timestamp any    `json:"timestamp"`
	Text      string `json:"text"`
}

func fromObject(fields map[string]json.RawMessage) (*QCResult, error) {
	for _, key := range []string{"results", "issues"} {
		if body, ok := fields[key]; ok && isArray(body) {
			var items []legacyItem
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResult, key, err)
			}
			return fromLegacy(items), nil
		}
	}
	if _, hasText := fields["text"]; hasText {
		if _, hasTS := fields["timestamp"]; hasTS {
			var item legacyItem
			if err := decodeFields(fields, &item); err != nil {
				return nil, err
			}
			return fromLegacy([]legacyItem{item}), nil
		}
	}
	return fromStructured(fields)
}

func fromLegacy(items []legacyItem) *QCResult {
	comments := make([]Comment, 0, len(items))
	for _, item := range items {
		comments = append(comments, parseLegacyComment(item))
	}
	return &QCResult{Comments: comments, Summary: Summarize(comments)}
}

func parseLegacyComment(item legacyItem) Comment {
	display, secs := ParseTimestamp(item.Timestamp)
	text := item.Text
	c := Comment{Timestamp: display, TimestampSec: secs}

	if strings.Contains(text, "Issue Type:") {
		issue := firstMatch(reIssueType, text, CategoryOther)
		if mapped, ok := legacyCategories[issue]; ok {
			c.Category = mapped
		} else {
			c.Category = titleCase(issue)
		}
		c.Description = firstMatch(reObservation, text, text)
		c.Suggestion = firstMatch(reRecommendation, text, "")
		c.Severity = ParseSeverity(firstMatch(reSeverity, text, "MEDIUM"), SeverityWarning)
		return c
	}

	current := firstMatch(reCurrentText, text, "")
	correction := firstMatch(reCorrection, text, "")
	c.Category = "Grammar"
	c.Severity = SeverityWarning
	c.Suggestion = firstMatch(reReason, text, text)
	if current != "" && correction != "" {
		c.Description = fmt.Sprintf("%q → %q", current, correction)
	} else {
		c.Description = text
	}
	return c
}

type structuredComment struct {
	Timestamp    any      `json:"timestamp"`
	TimestampSec *float64 `json:"timestamp_sec"`
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	Suggestion   string   `json:"suggestion"`
	Severity     string   `json:"severity"`
}

func fromStructured(fields map[string]json.RawMessage) (*QCResult, error) {
	res := &QCResult{Comments: []Comment{}}

	if body, ok := fields["comments"]; ok && !isNull(body) {
		var wire []structuredComment
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("%w: comments: %v", ErrInvalidResult, err)
		}
		for _, w := range wire {
			display, secs := ParseTimestamp(w.Timestamp)
			if w.TimestampSec != nil {
				secs = *w.TimestampSec
				if display == "" {
					display = FormatTimestamp(secs)
				}
			}
			category := strings.TrimSpace(w.Category)
			if category == "" {
				category = CategoryOther
			}
			res.Comments = append(res.Comments, Comment{
				Timestamp:    display,
				TimestampSec: secs,
				Category:     category,
				Description:  w.Description,
				Suggestion:   w.Suggestion,
				Severity:     ParseSeverity(w.Severity, SeverityInfo),
			})
		}
	}

	if body, ok := fields["summary"]; ok && !isNull(body) {
		var s Summary
		if err := json.Unmarshal(body, &s); err == nil && s.ByCategory != nil {
			res.Summary = s
		}
	}

	info, err := videoInfo(fields)
	if err != nil {
		return nil, err
	}
	res.VideoInfo = info
	return res, nil
}

// videoInfo prefers the nested video_info object and falls back to the
// legacy top-level resolution/fps/audio fields.
func videoInfo(fields map[string]json.RawMessage) (*VideoInfo, error) {
	src := fields
	if body, ok := fields["video_info"]; ok && !isNull(body) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(body, &nested); err != nil {
			return nil, fmt.Errorf("%w: video_info: %v", ErrInvalidResult, err)
		}
		src = nested
	}

	info := &VideoInfo{}
	found := false
	if body, ok := src["resolution"]; ok && !isNull(body) {
		var s string
		if json.Unmarshal(body, &s) == nil {
			info.Resolution = s
			found = true
		}
	}
	if body, ok := src["fps"]; ok && !isNull(body) {
		if f, ok := looseFloat(body); ok {
			info.FPS = f
			found = true
		}
	}
	if body, ok := src["audio"]; ok && !isNull(body) {
		var b bool
		if json.Unmarshal(body, &b) == nil {
			info.Audio = &b
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return info, nil
}

// Summarize counts comments overall and per category.
func Summarize(comments []Comment) Summary {
	by := make(map[string]int)
	for _, c := range comments {
		by[c.Category]++
	}
	return Summary{TotalIssues: len(comments), ByCategory: by}
}

// ParseTimestamp accepts seconds (number or numeric string) or a clock
// string. Clock strings are HH:MM:SS with an optional trailing frame field,
// or MM:SS. Unparsable input keeps its raw display text at offset 0.
func ParseTimestamp(v any) (string, float64) {
	switch t := v.(type) {
	case nil:
		return "", 0
	case float64:
		return FormatTimestamp(t), math.Trunc(t)
	case int:
		return FormatTimestamp(float64(t)), float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String(), 0
		}
		return FormatTimestamp(f), math.Trunc(f)
	case string:
		return parseClock(strings.TrimSpace(t))
	default:
		s := fmt.Sprint(t)
		return s, 0
	}
}

func parseClock(s string) (string, float64) {
	if s == "" {
		return "", 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FormatTimestamp(f), math.Trunc(f)
	}
	parts := strings.Split(s, ":")
	nums := make([]int, 0, 3)
	for i, p := range parts {
		if i > 2 {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return s, 0
		}
		nums = append(nums, n)
	}
	var total int
	switch len(nums) {
	case 2:
		total = nums[0]*60 + nums[1]
	case 3:
		total = nums[0]*3600 + nums[1]*60 + nums[2]
	default:
		return s, 0
	}
	return FormatTimestamp(float64(total)), float64(total)
}

// FormatTimestamp renders whole seconds as HH:MM:SS.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	n := int(sec)
	return fmt.Sprintf("%02d:%02d:%02d", n/3600, (n%3600)/60, n%60)
}

// ParseSeverity maps backend and legacy severity labels onto the three
// canonical grades.
func ParseSeverity(raw string, fallback Severity) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error", "high", "critical":
		return SeverityError
	case "warning", "warn", "medium":
		return SeverityWarning
	case "info", "low":
		return SeverityInfo
	default:
		return fallback
	}
}

// SortComments orders comments by ascending offset, keeping the original
// order for equal offsets.
func SortComments(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].TimestampSec < comments[j].TimestampSec
	})
}

// FilterByCategory returns the comments in category, case-insensitively.
// An empty category or "all" returns every comment.
func FilterByCategory(comments []Comment, category string) []Comment {
	category = strings.TrimSpace(category)
	if category == "" || strings.EqualFold(category, "all") {
		return comments
	}
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if strings.EqualFold(c.Category, category) {
			out = append(out, c)
		}
	}
	return out
}

func clampOffsets(comments []Comment, durationSec int) {
	for i := range comments {
		c := &comments[i]
		switch {
		case c.TimestampSec < 0 || math.IsNaN(c.TimestampSec):
			c.TimestampSec = 0
			c.Timestamp = FormatTimestamp(0)
		case durationSec > 0 && c.TimestampSec > float64(durationSec):
			c.TimestampSec = float64(durationSec)
			c.Timestamp = FormatTimestamp(float64(durationSec))
		}
	}
}

func firstMatch(re *regexp.Regexp, text, fallback string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return fallback
	}
	return strings.TrimSpace(m[1])
}

func titleCase(s string) string {
	out := []rune(strings.ToLower(s))
	upper := true
	for i, r := range out {
		if upper && unicode.IsLetter(r) {
			out[i] = unicode.ToUpper(r)
		}
		upper = !unicode.IsLetter(r)
	}
	return string(out)
}

func looseFloat(body json.RawMessage) (float64, bool) {
	var f float64
	if json.Unmarshal(body, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(body, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func decodeFields(fields map[string]json.RawMessage, out any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}

func isArray(body json.RawMessage) bool {
	b := bytes.TrimSpace(body)
	return len(b) > 0 && b[0] == '['
}

func isNull(body json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}
