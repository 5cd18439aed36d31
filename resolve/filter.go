package resolve

import (
	"strings"

	"github.com/samber/lo"

	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/provider"
)

// query qualifies the track name with its artist unless the artist is
// missing or a placeholder.
func query(t music.LogicalTrack) string {
	name := strings.TrimSpace(t.Name)
	if music.IsPlaceholderArtist(t.Artist) {
		return name
	}
	return name + " " + strings.TrimSpace(t.Artist)
}

// filter keeps candidates whose artist and title both contain the target's.
// When none do it falls back to title containment alone, and never further:
// an empty result is preferred over playing a different song.
func filter(candidates []provider.Candidate, t music.LogicalTrack) []provider.Candidate {
	title := music.Normalize(t.Name)
	artist := music.Normalize(t.Artist)

	titleMatches := lo.Filter(candidates, func(c provider.Candidate, _ int) bool {
		return strings.Contains(music.Normalize(c.Title), title)
	})
	strict := lo.Filter(titleMatches, func(c provider.Candidate, _ int) bool {
		return strings.Contains(music.Normalize(c.Artist), artist)
	})
	if len(strict) > 0 {
		return strict
	}
	return titleMatches
}
