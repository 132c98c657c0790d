package nodedir

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"qsnet-switch/internal/config"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
)

// AdapterType is the first column of an elanhosts line.
type AdapterType string

const (
	AdapterEIP   AdapterType = "eip"
	AdapterEth   AdapterType = "eth"
	AdapterOther AdapterType = "other"
)

func parseAdapterType(s string) (AdapterType, bool) {
	switch t := AdapterType(strings.ToLower(s)); t {
	case AdapterEIP, AdapterEth, AdapterOther:
		return t, true
	}
	return "", false
}

// Parse reads an elanhosts table. Each line is
//
//	<type> <hostlist> <idlist>
//
// where hostlist uses bracket ranges (node[0-3,7]) and idlist is a node spec,
// optionally bracketed ([0-3,7]). Both lists must expand to the same length.
// Everything after '#' is ignored.
func Parse(r io.Reader) (*Table, error) {
	t := newTable()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, parseErr(lineNo, "want 3 fields, got %d", len(fields))
		}
		typ, ok := parseAdapterType(fields[0])
		if !ok {
			return nil, parseErr(lineNo, "unknown adapter type %q", fields[0])
		}
		hosts, err := ExpandHostlist(fields[1])
		if err != nil {
			return nil, parseErr(lineNo, "%v", err)
		}
		ids, err := config.ParseNodeSpec(strings.Trim(fields[2], "[]"))
		if err != nil {
			return nil, parseErr(lineNo, "%v", err)
		}
		if len(hosts) != len(ids) {
			return nil, parseErr(lineNo, "%d hosts but %d ids", len(hosts), len(ids))
		}
		for i, h := range hosts {
			if err := t.add(typ, h, uint32(ids[i])); err != nil {
				return nil, parseErr(lineNo, "%v", err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read elanhosts"), qswerr.ErrConfig)
	}
	return t, nil
}

func parseErr(line int, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf("elanhosts line %d: %s", line, fmt.Sprintf(format, args...)), qswerr.ErrConfig)
}

// ExpandHostlist expands "a,node[0-2,5],b" into individual host names.
// Zero padding in a range bound is kept: n[08-10] gives n08 n09 n10.
func ExpandHostlist(list string) ([]string, error) {
	var out []string
	for _, item := range splitHostlist(list) {
		if item == "" {
			continue
		}
		lb := strings.IndexByte(item, '[')
		if lb < 0 {
			out = append(out, item)
			continue
		}
		rb := strings.IndexByte(item, ']')
		if rb < lb {
			return nil, fmt.Errorf("unbalanced brackets in %q", item)
		}
		prefix, body, suffix := item[:lb], item[lb+1:rb], item[rb+1:]
		if strings.ContainsAny(suffix, "[]") {
			return nil, fmt.Errorf("nested or repeated ranges in %q", item)
		}
		for _, r := range strings.Split(body, ",") {
			names, err := expandRange(prefix, strings.TrimSpace(r), suffix)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", item, err)
			}
			out = append(out, names...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty hostlist")
	}
	return out, nil
}

// splitHostlist splits on commas outside brackets.
func splitHostlist(list string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range list {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, list[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, list[start:])
}

func expandRange(prefix, r, suffix string) ([]string, error) {
	lo, hi, found := strings.Cut(r, "-")
	if !found {
		hi = lo
	}
	a, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("bad range bound %q", lo)
	}
	b, err := strconv.Atoi(hi)
	if err != nil {
		return nil, fmt.Errorf("bad range bound %q", hi)
	}
	if a < 0 || a > b {
		return nil, fmt.Errorf("bad range %q", r)
	}
	width := 0
	if len(lo) > 1 && lo[0] == '0' {
		width = len(lo)
	}
	names := make([]string, 0, b-a+1)
	for i := a; i <= b; i++ {
		names = append(names, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
	}
	return names, nil
}
