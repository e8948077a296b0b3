package wasmmod

import (
	"regexp"
	"sort"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/carrica/errors"
)

// Signature is the WIT type of one exported function.
type Signature struct {
	Name    string
	Params  []wit.Type
	Results []wit.Type
}

// GuestName returns the guest method name: kebab case becomes camel case.
func (s *Signature) GuestName() string {
	parts := strings.Split(s.Name, "-")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// GuestSignature returns the guest call signature, e.g. "add(_,_)".
func (s *Signature) GuestSignature() string {
	return s.GuestName() + "(" + strings.TrimSuffix(strings.Repeat("_,", len(s.Params)), ",") + ")"
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// ParseSignatures extracts function signatures from WIT text of the form
// "name: func(a: s32, b: s32) -> s32;". Only scalar types are accepted.
func ParseSignatures(witText string) (map[string]*Signature, error) {
	sigs := make(map[string]*Signature)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := &Signature{Name: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range splitParams(params) {
				typ := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typ = p[idx+1:]
				}
				t, err := parseScalar(typ)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, sig.Name+": param "+strings.TrimSpace(p))
				}
				sig.Params = append(sig.Params, t)
			}
		}

		result := strings.TrimSpace(match[3])
		result = strings.TrimSuffix(strings.TrimPrefix(result, "("), ")")
		if result = strings.TrimSpace(result); result != "" {
			t, err := parseScalar(result)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, sig.Name+": result "+result)
			}
			sig.Results = []wit.Type{t}
		}

		sigs[sig.Name] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return sigs, nil
}

func splitParams(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseScalar(s string) (wit.Type, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.S64, wit.U64, wit.F32, wit.F64:
		return t, nil
	}
	return nil, errors.New(errors.PhaseParse, errors.KindUnsupported).
		Detail("type %s cannot cross into the guest", strings.TrimSpace(s)).
		Build()
}

func sortedNames(sigs map[string]*Signature) []string {
	names := make([]string, 0, len(sigs))
	for n := range sigs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
