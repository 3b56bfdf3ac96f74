package judgment

import (
	"fmt"
	"strings"
)

const classificationSystem = `You are an information classification expert for a market intelligence feed.

Categories:
1. relevant: anything with a direct or potential bearing on markets, companies, projects, policy or industry dynamics. Indirectly related events that may move markets also belong here.
2. entertainment: jokes, memes, casual chat and other light content unrelated to markets.
3. spam: advertisements unrelated to markets, meaningless repetition, obvious scams.
4. other: anything else, such as general news or lifestyle content.

When content fits more than one category, prefer relevant.
Reply with a JSON object: {"category": "relevant|entertainment|spam|other", "reason": "<one or two sentences>"}`

func classificationPrompt(content string, meta SourceMeta) string {
	return fmt.Sprintf("Classify the following content.\n\nSource: %s\nType: %s\nContent: %s",
		meta.EntityName, meta.Kind, content)
}

const duplicationSystem = `You compare a new piece of content with existing stored content and extract only what is new.

Relationships:
- identical: same information, only wording differs. shouldSkip=true.
- new_contains_existing: the new content has everything the existing content has, plus more. shouldSkip=false, processedContent is the new part only.
- existing_contains_new: the existing content already covers the new content. shouldSkip=true.
- unrelated: different topics or events. shouldSkip=false, no processedContent.
- partial_overlap: each has information the other lacks. shouldSkip=false, processedContent is the non-overlapping part of the new content.

isTimeEffective is true for time-sensitive information such as price moves, breaking events or fresh announcements.
shouldUpdate is true when the new content supersedes the first existing item and should replace it.

processedContent contains only extracted content, never analysis, and never repeats itself.
reasoning is at most 200 characters.
Reply with a JSON object: {"relationship": "...", "shouldSkip": bool, "processedContent": "...", "isTimeEffective": bool, "shouldUpdate": bool, "reasoning": "..."}`

func duplicationPrompt(newContent string, matches []Match) string {
	var sb strings.Builder
	sb.WriteString("Analyze the relationship between the new content and the existing content.\n\n[New content]\n")
	sb.WriteString(newContent)
	for i, m := range matches {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&sb, "\n\n[Existing content %d] (similarity: %.4f, id: %s)\n%s", i+1, m.Similarity, id, m.Content)
	}
	return sb.String()
}

const signalSystem = `You are a professional market analyst. Analyze the information along two dimensions.

1. Targets: identify the specific assets, companies or themes involved and why they matter.
2. Timing: whether the information suggests long or short opportunities, and whether it affects the whole market or specific assets.

Be concise and professional, at most 300 words. Keep entity names and numbers intact.`

func signalPrompt(content string, meta SourceMeta) string {
	published := "unknown"
	if !meta.CreatedAt.IsZero() {
		published = meta.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")
	}
	return fmt.Sprintf("[Source] %s (%s)\n[Published] %s\n[Content] %s\n\nProvide the target and timing analysis:",
		meta.EntityName, meta.Kind, published, content)
}
