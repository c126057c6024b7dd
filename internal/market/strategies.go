package market

import "strings"

// strategyAliases maps user-facing names and numeric shortcuts onto the
// upstream strategy keys.
var strategyAliases = map[string]string{
	"n型": "n_shape", "1": "n_shape",
	"填坑": "fill_pit", "2": "fill_pit",
	"少妇": "young_woman", "3": "young_woman",
	"突破": "breakthrough", "4": "breakthrough",
	"补票": "ticket", "5": "ticket",
	"少妇pro": "young_woman_pro", "6": "young_woman_pro",
}

// ResolveStrategy maps an alias to its canonical strategy key. Canonical
// keys pass through unchanged; unknown names return false.
func ResolveStrategy(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	if key, ok := strategyAliases[name]; ok {
		return key, true
	}
	for _, key := range strategyAliases {
		if key == name {
			return key, true
		}
	}
	return "", false
}

// StrategyNames lists the human aliases in a stable order for help output.
func StrategyNames() []string {
	return []string{"N型", "填坑", "少妇", "突破", "补票", "少妇pro"}
}
