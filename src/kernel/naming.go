package kernel

import (
	"fmt"
	"strings"
)

// sanitisePlayerName replaces every character outside [A-Za-z0-9-] with
// "-", matching create_new_island's character-class filter but using "-"
// in place of "_" (SPEC_FULL's sanitisation Open Question, decided for
// container-name-safety: LXD instance names forbid underscores).
func sanitisePlayerName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out == "" {
		return "player"
	}
	return out
}

// soloContainerName builds the container name for a directly-owned island.
func soloContainerName(playerName, playerUUID string) string {
	return fmt.Sprintf("skyblock-solo-%s-%s", sanitisePlayerName(playerName), shortUUID(playerUUID))
}

// teamContainerName builds the container name for a team-owned island.
func teamContainerName(teamName string, teamID int64) string {
	return fmt.Sprintf("skyblock-team-%s-%d", sanitisePlayerName(teamName), teamID)
}

// shortUUID truncates a UUID to its first 8 characters for use in a
// container name, matching the image-strategy rebuild's
// uuid4().hex[:8] suffix convention.
func shortUUID(uuid string) string {
	u := strings.ReplaceAll(uuid, "-", "")
	if len(u) > 8 {
		return u[:8]
	}
	return u
}
