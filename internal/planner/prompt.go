package planner

import (
	"fmt"
	"strings"

	"github.com/slapglif/clippyb/internal/search"
)

const systemPrompt = `You are a music search query generator. Generate effective YouTube search queries to find one specific song. Your output must be ONLY a single JSON object of the form {"queries": ["query 1", "query 2"]}. Do not include any other text, prose, or markdown.`

const firstRoundTemplate = `Generate 3-4 different YouTube search queries to find this exact song: %q

Generate variations like:
- Exact artist and song name
- With "official" or "audio"
- Alternative spellings or formats
- Without extra words that might confuse search

Example for "Never Gonna Give You Up - Rick Astley":
{"queries": ["Rick Astley Never Gonna Give You Up", "Rick Astley Never Gonna Give You Up official", "Never Gonna Give You Up Rick Astley audio"]}`

const refineTemplate = `Generate 2-3 NEW refined YouTube search queries for: %q

Previous attempts:
%s

Do not repeat queries that were already tried. Try different approaches:
- More specific terms
- Different word order
- Add year, genre, or album info
- Alternate artist or song spellings
- Focus on official sources`

const broadTemplate = `Generate 5-8 varied YouTube search queries to find this exact song: %q

Cover the exact title, title with artist, "official audio", "official video", "lyrics", and any likely alternate spellings.`

func firstRoundPrompt(query string) string {
	return fmt.Sprintf(firstRoundTemplate, query)
}

func broadPrompt(query string) string {
	return fmt.Sprintf(broadTemplate, query)
}

// refinePrompt lists every prior round as "Tried: <queries> (<reasoning>)".
func refinePrompt(query string, prior []search.Round) string {
	var sb strings.Builder
	for _, r := range prior {
		tried := strings.Join(r.Queries, " | ")
		if tried == "" {
			tried = "(no queries)"
		}
		reasoning := r.Reasoning
		if reasoning == "" {
			reasoning = "no reasoning"
		}
		fmt.Fprintf(&sb, "Tried: %s (%s)\n", tried, reasoning)
	}
	return fmt.Sprintf(refineTemplate, query, strings.TrimRight(sb.String(), "\n"))
}
