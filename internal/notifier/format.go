package notifier

import (
	"html"
	"strings"

	"bidwatch/internal/bid"
)

// slackMessage is the incoming-webhook payload: a plain-text fallback plus
// one mrkdwn section block.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildSlackMessage(r bid.Record) slackMessage {
	title := escapeMrkdwn(r.Title)
	var b strings.Builder
	b.WriteString("📢 *<")
	b.WriteString(r.DetailURL)
	b.WriteString("|")
	b.WriteString(title)
	b.WriteString(">*\n🏢 ")
	b.WriteString(escapeMrkdwn(r.Agency))
	b.WriteString(" | 📍 ")
	b.WriteString(escapeMrkdwn(r.RegionOrDefault()))
	b.WriteString("\n⏰ 마감: ")
	b.WriteString(escapeMrkdwn(bid.FormatDeadline(r.Deadline)))

	return slackMessage{
		Text: "📢 *[새로운 공고]* " + title,
		Blocks: []slackBlock{{
			Type: "section",
			Text: slackText{Type: "mrkdwn", Text: b.String()},
		}},
	}
}

// escapeMrkdwn escapes the three characters Slack treats as control syntax.
func escapeMrkdwn(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func buildTelegramHTML(r bid.Record) string {
	var b strings.Builder
	b.WriteString("📢 <b><a href=\"")
	b.WriteString(html.EscapeString(r.DetailURL))
	b.WriteString("\">")
	b.WriteString(html.EscapeString(r.Title))
	b.WriteString("</a></b>\n🏢 ")
	b.WriteString(html.EscapeString(r.Agency))
	b.WriteString(" | 📍 ")
	b.WriteString(html.EscapeString(r.RegionOrDefault()))
	b.WriteString("\n⏰ 마감: ")
	b.WriteString(html.EscapeString(bid.FormatDeadline(r.Deadline)))
	return b.String()
}
