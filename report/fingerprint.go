package report

import "strings"

// fingerprintRule decides whether it applies to a record's argv and, if so,
// computes the disambiguator appended to the primary key. Kept table-driven
// so new rules can be added without touching the engine.
type fingerprintRule struct {
	primary      func(argv []string) bool
	disambiguate func(argv []string) string
}

var shellNames = map[string]bool{
	"sh": true, "bash": true, "dash": true,
	"/bin/sh": true, "/bin/bash": true,
}

var interpreterNames = map[string]bool{
	"python": true, "./python": true, "python3": true, "perl": true, "ruby": true,
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

var shellRule = fingerprintRule{
	primary: func(argv []string) bool {
		if len(argv) == 0 {
			return false
		}
		return shellNames[argv[0]] || shellNames[baseName(argv[0])]
	},
	disambiguate: func(argv []string) string {
		if len(argv) < 2 {
			return ""
		}
		if strings.HasPrefix(argv[1], "-") {
			return ""
		}
		return argv[1]
	},
}

var interpreterRule = fingerprintRule{
	primary: func(argv []string) bool {
		if len(argv) == 0 {
			return false
		}
		return interpreterNames[argv[0]] || interpreterNames[baseName(argv[0])]
	},
	disambiguate: func(argv []string) string {
		for _, a := range argv[1:] {
			if !strings.HasPrefix(a, "-") {
				return a
			}
		}
		return ""
	},
}

var fingerprintRules = []fingerprintRule{shellRule, interpreterRule}

// fingerprint computes the group-by key for argv: the primary key is the
// first path component, with an optional disambiguator appended for shells
// and interpreters.
func fingerprint(argv []string) string {
	if len(argv) == 0 {
		return "<unknown>"
	}
	primary := argv[0]
	for _, rule := range fingerprintRules {
		if rule.primary(argv) {
			if d := rule.disambiguate(argv); d != "" {
				return primary + " " + d
			}
			break
		}
	}
	return primary
}
