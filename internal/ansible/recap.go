// SPDX-License-Identifier: MPL-2.0

package ansible

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// TailLines is how many trailing output lines the idempotence check inspects.
const TailLines = 10

var (
	idempotentPattern = regexp.MustCompile(`changed=0.*failed=0`)
	recapHostPattern  = regexp.MustCompile(`^(\S+)\s+:\s+(.+)$`)
)

type (
	// HostRecap is one host line of the PLAY RECAP block.
	HostRecap struct {
		Host        string `json:"host" yaml:"host" toml:"host"`
		Ok          int    `json:"ok" yaml:"ok" toml:"ok"`
		Changed     int    `json:"changed" yaml:"changed" toml:"changed"`
		Unreachable int    `json:"unreachable" yaml:"unreachable" toml:"unreachable"`
		Failed      int    `json:"failed" yaml:"failed" toml:"failed"`
		Skipped     int    `json:"skipped" yaml:"skipped" toml:"skipped"`
		Rescued     int    `json:"rescued" yaml:"rescued" toml:"rescued"`
		Ignored     int    `json:"ignored" yaml:"ignored" toml:"ignored"`
	}

	// IdempotenceResult is the outcome of checking a second playbook run.
	IdempotenceResult struct {
		Passed bool        `json:"passed" yaml:"passed" toml:"passed"`
		Recap  []HostRecap `json:"recap,omitempty" yaml:"recap,omitempty" toml:"recap,omitempty"`
	}
)

// ParseRecap extracts the host lines of the last PLAY RECAP block in output.
func ParseRecap(output string) []HostRecap {
	var (
		recaps  []HostRecap
		inRecap bool
	)

	sc := bufio.NewScanner(strings.NewReader(ansi.Strip(output)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "PLAY RECAP") {
			inRecap = true
			recaps = recaps[:0]
			continue
		}
		if !inRecap || line == "" {
			continue
		}
		m := recapHostPattern.FindStringSubmatch(line)
		if m == nil {
			inRecap = false
			continue
		}
		recaps = append(recaps, parseHostRecap(m[1], m[2]))
	}
	return recaps
}

func parseHostRecap(host, counters string) HostRecap {
	r := HostRecap{Host: host}
	for field := range strings.FieldsSeq(counters) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		switch key {
		case "ok":
			r.Ok = n
		case "changed":
			r.Changed = n
		case "unreachable":
			r.Unreachable = n
		case "failed":
			r.Failed = n
		case "skipped":
			r.Skipped = n
		case "rescued":
			r.Rescued = n
		case "ignored":
			r.Ignored = n
		}
	}
	return r
}

// Tail returns the last n lines of output, ignoring a trailing newline.
func Tail(output string, n int) []string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// CheckIdempotence passes when one of the last TailLines lines of output reports
// changed=0 followed by failed=0.
func CheckIdempotence(output string) IdempotenceResult {
	res := IdempotenceResult{Recap: ParseRecap(output)}
	for _, line := range Tail(ansi.Strip(output), TailLines) {
		if idempotentPattern.MatchString(line) {
			res.Passed = true
			break
		}
	}
	return res
}
