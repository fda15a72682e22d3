package rcon

import (
	"regexp"
	"strconv"
	"strings"
)

// Player is one row of the status player table.
type Player struct {
	UserID int    `json:"userId"` // Session-scoped slot id, target of kickid/css_ban
	Name   string `json:"name"`
	Ping   int    `json:"ping"`
	Loss   int    `json:"loss"`
	State  string `json:"state"`
	Addr   string `json:"addr"`
}

// spawngroupRe matches the loaded-spawngroup line of CS2 status output:
//
//	loaded spawngroup(  1)  : SV:  [1: de_dust2 | main lump | mapload]
var spawngroupRe = regexp.MustCompile(`loaded spawngroup\(\s*1\)\s*:\s*SV:\s*\[\d+:\s*([^\s|]+)`)

// hostMapRe matches the legacy "map : de_dust2" status line kept as a
// fallback for older builds.
var hostMapRe = regexp.MustCompile(`(?m)^map\s*:\s*(\S+)`)

// playerRowRe matches one row of the status player table:
//
//	 0      05:12   25    0     active 786432 1.2.3.4:27005 'Player One'
var playerRowRe = regexp.MustCompile(`^\s*(\d+)\s+[\d:]+\s+(\d+)\s+(\d+)\s+(\S+)\s+\d+\s+(\S+)\s+'(.*)'\s*$`)

// parseCurrentMap extracts the running map from status output, or ""
// when the output has an unexpected shape.
func parseCurrentMap(out string) string {
	if m := spawngroupRe.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	if m := hostMapRe.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

// parsePlayers extracts the connected-player table from status output.
// Bot rows (no network address) and malformed rows are skipped.
func parsePlayers(out string) []Player {
	players := []Player{}
	inTable := false

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.Contains(line, "---players---") || strings.HasPrefix(strings.TrimSpace(line), "id ") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}

		m := playerRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		userID, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ping, _ := strconv.Atoi(m[2])
		loss, _ := strconv.Atoi(m[3])

		players = append(players, Player{
			UserID: userID,
			Name:   m[6],
			Ping:   ping,
			Loss:   loss,
			State:  m[4],
			Addr:   m[5],
		})
	}

	return players
}
