package bid

// NoDeadline is shown when a notice has no closing time.
const NoDeadline = "마감일 없음"

// FormatDeadline turns a 12-character YYYYMMDDHHMM token into
// "YYYY-MM-DD HH:MM". Anything else is returned unchanged.
func FormatDeadline(s string) string {
	if len(s) != 12 {
		return s
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return s
		}
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:8] + " " + s[8:10] + ":" + s[10:]
}

// DeadlineOrPlaceholder formats the deadline for display, using NoDeadline
// when it is empty.
func (r Record) DeadlineOrPlaceholder() string {
	if r.Deadline == "" {
		return NoDeadline
	}
	return FormatDeadline(r.Deadline)
}
