package agents

import "hash/fnv"

// Display-name index assignments. Keeping the ranges apart means a unit
// keeps its name when the roster around it changes:
// 0-4:  the fixed responsibility roster
// 10+i: fan-out synthesis branches
const (
	IdxResearch   = 0
	IdxAnalyze    = 1
	IdxSynthesize = 2
	IdxCritique   = 3
	IdxRoute      = 4
	IdxBranchBase = 10
)

// displayNames is the pool of Japanese station-inspired agent names.
// The list is fixed to maintain determinism for workflow replays.
var displayNames = []string{
	"Ueno", "Ebisu", "Namba", "Mejiro", "Koenji",
	"Gotanda", "Ryogoku", "Nippori", "Asagaya", "Yumoto",
	"Harajuku", "Shibuya", "Odawara", "Ogikubo", "Ichigaya",
	"Komazawa", "Shinjuku", "Todoroki", "Zushi", "Nikko",
	"Hakone", "Atami", "Ginza", "Kamakura", "Yokohama",
	"Sapporo", "Musashi", "Omiya", "Takao", "Kichijoji",
}

// DisplayName returns a deterministic name for one of a run's units. The
// same run ID and index always produce the same name, so replays agree
// with the original execution.
func DisplayName(runID string, index int) string {
	if len(displayNames) == 0 || index < 0 {
		return ""
	}
	base := int(fnv32a(runID) % uint32(len(displayNames)))
	return displayNames[(base+index)%len(displayNames)]
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
