package waveform

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// This file implements a YAML description format for waveform tables. It is
// not the vendor .wbf binary format; it is a readable equivalent meant for
// experimentation and for panels whose calibration has been extracted by
// other tools.
//
// Matrices are described by ordered rules instead of full 32×32 grids:
//
//	modes:
//	  - kind: DU
//	    ranges:
//	      - from: 0
//	        to: 50
//	        steps:
//	          - rules:
//	              - {from: "0-31", to: "0-15", phase: black}
//	              - {from: "0-31", to: "16-31", phase: white}
//
// Rules are applied in order; later rules overwrite earlier ones; pairs no
// rule matches stay at noop. The span syntax is "N" or "N-M" (inclusive).

type fileRoot struct {
	Modes []fileMode `yaml:"modes"`
}

type fileMode struct {
	Kind   string      `yaml:"kind"`
	Ranges []fileRange `yaml:"ranges"`
}

type fileRange struct {
	From  int        `yaml:"from"`
	To    int        `yaml:"to"`
	Steps []fileStep `yaml:"steps"`
}

type fileStep struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Phase string `yaml:"phase"`
}

// Load reads a YAML waveform table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("waveform: parse %s: %w", path, err)
	}
	return t, nil
}

// Parse builds a Table from YAML table data.
func Parse(data []byte) (*Table, error) {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Modes) == 0 {
		return nil, fmt.Errorf("no modes defined")
	}

	t := NewTable()
	for _, fm := range root.Modes {
		kind, err := ParseModeKind(fm.Kind)
		if err != nil {
			return nil, err
		}
		mode, err := t.AddMode(kind)
		if err != nil {
			return nil, err
		}
		if len(fm.Ranges) == 0 {
			return nil, fmt.Errorf("mode %s has no temperature ranges", kind)
		}
		for _, fr := range fm.Ranges {
			seq := make(Waveform, 0, len(fr.Steps))
			for i, fs := range fr.Steps {
				m, err := buildMatrix(fs.Rules)
				if err != nil {
					return nil, fmt.Errorf("mode %s step %d: %w", kind, i, err)
				}
				seq = append(seq, m)
			}
			if err := mode.AddRange(fr.From, fr.To, seq); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func buildMatrix(rules []fileRule) (Matrix, error) {
	var m Matrix
	for _, r := range rules {
		fromLo, fromHi, err := parseSpan(r.From)
		if err != nil {
			return m, fmt.Errorf("from span %q: %w", r.From, err)
		}
		toLo, toHi, err := parseSpan(r.To)
		if err != nil {
			return m, fmt.Errorf("to span %q: %w", r.To, err)
		}
		phase, err := parsePhase(r.Phase)
		if err != nil {
			return m, err
		}
		for from := fromLo; from <= fromHi; from++ {
			for to := toLo; to <= toHi; to++ {
				m[from][to] = phase
			}
		}
	}
	return m, nil
}

// parseSpan parses "N" or "N-M" into an inclusive intensity span.
func parseSpan(s string) (lo, hi int, err error) {
	if s == "" {
		// An omitted span covers every intensity.
		return 0, Levels - 1, nil
	}
	if before, after, ok := strings.Cut(s, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, err
		}
		b, err := strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, err
		}
		return a, b, checkSpan(a, b)
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return v, v, checkSpan(v, v)
}

func checkSpan(lo, hi int) error {
	if lo < 0 || hi >= Levels || lo > hi {
		return fmt.Errorf("span [%d, %d] outside [0, %d]", lo, hi, Levels-1)
	}
	return nil
}

func parsePhase(s string) (Phase, error) {
	switch strings.ToLower(s) {
	case "noop", "":
		return Noop, nil
	case "black":
		return Black, nil
	case "white":
		return White, nil
	}
	return Noop, fmt.Errorf("unknown phase %q", s)
}
