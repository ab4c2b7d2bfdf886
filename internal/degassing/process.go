// Package degassing decides when a roasted batch has outgassed enough CO2 to
// be sealed and shipped. It holds two independent models over the same
// input: a table-driven rule model and an exponential pressure-decay
// simulation. Both are pure; the package tables are read-only.
package degassing

import (
	"sort"
	"strings"
)

// Process is a canonical post-harvest process identifier. Raw process names
// coming from inventory are resolved to a Process once, by ResolveProcess;
// every table in this package is keyed by canonical values only.
type Process string

const (
	Washed             Process = "washed"
	Honey              Process = "honey"
	HoneyYellow        Process = "honey_yellow"
	HoneyRed           Process = "honey_red"
	HoneyBlack         Process = "honey_black"
	Natural            Process = "natural"
	SemiWashed         Process = "semi_washed"
	DoubleFermentation Process = "double_fermentation"
	CoFermentation     Process = "co_fermentation"
	Anaerobic          Process = "anaerobic"
)

// processAliases maps normalized regional or display names to their canonical
// process. Canonical names resolve to themselves through decayRates.
var processAliases = map[string]Process{
	"lavado":             Washed,
	"yellow_honey":       HoneyYellow,
	"red_honey":          HoneyRed,
	"black_honey":        HoneyBlack,
	"semi_lavado":        SemiWashed,
	"doble_fermentacion": DoubleFermentation,
	"co_fermentacion":    CoFermentation,
	"anaerobico":         Anaerobic,
}

// ResolveProcess maps a raw process name (any case, spaces or hyphens) to its
// canonical identifier.
func ResolveProcess(raw string) (Process, bool) {
	key := normalizeProcess(raw)
	if key == "" {
		return "", false
	}
	if p, ok := processAliases[key]; ok {
		return p, true
	}
	p := Process(key)
	if _, ok := decayRates[p]; ok {
		return p, true
	}
	return "", false
}

// Processes lists every canonical process, sorted.
func Processes() []Process {
	out := make([]Process, 0, len(decayRates))
	for p := range decayRates {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Aliases returns the alias table as name -> canonical process.
func Aliases() map[string]Process {
	out := make(map[string]Process, len(processAliases))
	for k, v := range processAliases {
		out[k] = v
	}
	return out
}

func normalizeProcess(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
