package parser

import (
	"regexp"
	"strings"
	"sync"

	"github.com/loglane/backend/internal/core"
)

// categoryKeywords is the weighted keyword catalog, in declaration order.
// Ties break toward the earlier category.
var categoryKeywords = []struct {
	category core.Category
	words    []string
}{
	{core.CategoryAuth, []string{"password", "login", "logout", "authentication", "auth", "sshd", "sudo", "session", "credential", "pam"}},
	{core.CategorySystem, []string{"systemd", "daemon", "service", "boot", "shutdown", "cron", "init", "started", "stopped", "reboot"}},
	{core.CategoryNetwork, []string{"connection", "network", "tcp", "udp", "dns", "dhcp", "interface", "socket", "port", "packet"}},
	{core.CategorySecurity, []string{"attack", "malware", "intrusion", "denied", "blocked", "firewall", "exploit", "breach", "unauthorized", "injection"}},
	{core.CategoryApplication, []string{"application", "exception", "error", "warning", "request", "response", "database", "query", "debug"}},
	{core.CategoryKernel, []string{"kernel", "usb", "device", "driver", "module", "irq", "cpu", "memory"}},
}

var (
	wordRegexMu sync.Mutex
	wordRegexes = map[string]*regexp.Regexp{}
)

func wholeWordRegex(word string) *regexp.Regexp {
	wordRegexMu.Lock()
	defer wordRegexMu.Unlock()
	re, ok := wordRegexes[word]
	if !ok {
		re = regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
		wordRegexes[word] = re
	}
	return re
}

// Categorize scores the message and source against the keyword catalog.
//
// Per keyword: +1 per occurrence in message or source, +2 more when it
// appears as a whole word, +3 more when it appears in the source. The extra
// whole-word boost on top of the occurrence count is intentional weighting.
// Hard rule: a source naming kernel[0] is always KERNEL.
func Categorize(message, source string) core.Category {
	lowerSource := strings.ToLower(source)
	if strings.Contains(lowerSource, "kernel") && strings.Contains(lowerSource, "[0]") {
		return core.CategoryKernel
	}

	combined := strings.ToLower(message) + " " + lowerSource

	best := core.CategoryUnknown
	bestScore := 0
	for _, ck := range categoryKeywords {
		score := 0
		for _, word := range ck.words {
			occ := strings.Count(combined, word)
			if occ == 0 {
				continue
			}
			score += occ
			if wholeWordRegex(word).MatchString(combined) {
				score += 2
			}
			if strings.Contains(lowerSource, word) {
				score += 3
			}
		}
		if score > bestScore {
			bestScore = score
			best = ck.category
		}
	}
	return best
}
