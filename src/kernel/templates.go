package kernel

import (
	"fmt"
	"strings"
)

const (
	islandDataPath    = "/opt/minecraft/world/serverconfig/skyblock_island_data.toml"
	playersyncPath    = "/opt/minecraft/config/playersync-common.toml"
	playersyncTmpl    = "server_id = {{SERVER_ID}}\n"
)

// soloIslandDataTOML renders the skyblock_island_data.toml injected into a
// solo-owned island's container (SPEC_FULL §6).
func soloIslandDataTOML(playerUUID string) string {
	return fmt.Sprintf("is_island_server = true\ncreator_uuid = %q\n", playerUUID)
}

// teamIslandDataTOML renders the variant for a team-owned island, listing
// every current member UUID.
func teamIslandDataTOML(teamID int64, ownerUUID string, memberUUIDs []string) string {
	quoted := make([]string, len(memberUUIDs))
	for i, u := range memberUUIDs {
		quoted[i] = fmt.Sprintf("%q", u)
	}
	return fmt.Sprintf(
		"is_island_server = true\nteam_id = %d\nowner_uuid = %q\nmember_uuids = [%s]\n",
		teamID, ownerUUID, strings.Join(quoted, ", "),
	)
}

// playersyncCommonTOML renders playersync-common.toml with its
// {{SERVER_ID}} placeholder substituted by a random 6-digit id.
func playersyncCommonTOML(serverID int) string {
	return strings.ReplaceAll(playersyncTmpl, "{{SERVER_ID}}", fmt.Sprintf("%d", serverID))
}
