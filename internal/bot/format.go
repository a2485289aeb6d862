package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"highlight_bot/internal/dispatch"
	"highlight_bot/internal/model"
	"highlight_bot/internal/pattern"
)

// maxContextLine is the longest context message quoted in a notification, in runes.
const maxContextLine = 500

// FormatNotification renders the private message sent for a highlight.
func FormatNotification(n model.Notification) string {
	var b strings.Builder

	where := n.CommunityTitle
	if n.ChannelTitle != "" && n.ChannelTitle != n.CommunityTitle {
		where = fmt.Sprintf("%s › %s", n.CommunityTitle, n.ChannelTitle)
	}
	noun := "word"
	if len(n.Terms) > 1 {
		noun = "words"
	}
	fmt.Fprintf(&b, "In %s, you were mentioned with the highlighted %s %s", where, noun, dispatch.JoinTerms(n.Terms))
	if n.AuthorName != "" {
		fmt.Fprintf(&b, " by %s", n.AuthorName)
	}

	if len(n.Context) > 0 {
		b.WriteString("\n")
		for _, e := range n.Context {
			fmt.Fprintf(&b, "\n[%s] %s: %s", e.CreatedAt.UTC().Format(time.TimeOnly), e.AuthorName, ellipsis(e.Text, maxContextLine))
		}
	}

	if n.Link != "" {
		fmt.Fprintf(&b, "\n\nSource message: %s", n.Link)
	}
	return b.String()
}

// FormatTrackedTerms renders a registration summary. chatName resolves
// chat IDs to titles and may return "".
func FormatTrackedTerms(reg *model.Registration, chatName func(int64) string) string {
	if reg == nil || len(reg.Terms) == 0 {
		return "You're not tracking any words."
	}

	var b strings.Builder
	b.WriteString("You're currently tracking the following terms\n")

	if words := pattern.Listing(reg.Terms, false); words != "" {
		fmt.Fprintf(&b, "\nWords:\n%s\n", words)
	}
	if regexes := pattern.Listing(reg.Terms, true); regexes != "" {
		fmt.Fprintf(&b, "\nRegexes:\n%s\n", regexes)
	}

	if len(reg.IgnoredChannels) > 0 {
		b.WriteString("\nIgnored chats:\n")
		for _, id := range reg.IgnoredChannels {
			name := ""
			if chatName != nil {
				name = chatName(id)
			}
			if name == "" {
				name = strconv.FormatInt(id, 10)
			}
			fmt.Fprintf(&b, "%s\n", name)
		}
	}
	if len(reg.IgnoredUsers) > 0 {
		b.WriteString("\nIgnored users:\n")
		for _, id := range reg.IgnoredUsers {
			fmt.Fprintf(&b, "%d\n", id)
		}
	}

	fmt.Fprintf(&b, "\nIgnore bots: %s\n", yesNo(reg.IgnoreBots))
	fmt.Fprintf(&b, "Ignore NSFW: %s\n", yesNo(reg.IgnoreNsfw))
	fmt.Fprintf(&b, "Highlight delay: %s\n", FormatDelay(reg.HighlightDelay))
	b.WriteString("\nTo add a new regex, surround a term with /slashes/")
	return b.String()
}

// FormatDelay renders a delay as h:mm:ss, or m:ss below one hour.
func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func ellipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
