// Package cases bundles network test cases and loads them (or
// user-supplied JSON case files) into a grid.Network.
package cases

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/model"
)

//go:embed case14.json feeder9.json
var embedded embed.FS

// DefaultCase is used when a caller asks for an unknown case name.
const DefaultCase = "case14"

var ErrUnknownCase = errors.New("unknown case")

// internal JSON shapes - kept unexported so the schema can evolve.
type caseJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	MVABase     float64         `json:"mva_base"`
	Buses       []busJSON       `json:"buses"`
	Generators  []generatorJSON `json:"generators"`
	Loads       []loadJSON      `json:"loads"`
	Shunts      []shuntJSON     `json:"shunts"`
	Branches    []branchJSON    `json:"branches"`
}

type busJSON struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Type   string  `json:"type"` // "slack" | "gen" | "load"
	BaseKV float64 `json:"base_kv"`
}

type generatorJSON struct {
	Bus      int     `json:"bus"`
	Name     string  `json:"name"`
	PMW      float64 `json:"p_mw"`
	VSetPU   float64 `json:"vset_pu"`
	QMinMVAr float64 `json:"q_min_mvar"`
	QMaxMVAr float64 `json:"q_max_mvar"`
	Slack    bool    `json:"slack"`
}

type loadJSON struct {
	Bus   int     `json:"bus"`
	PMW   float64 `json:"p_mw"`
	QMVAr float64 `json:"q_mvar"`
}

type shuntJSON struct {
	Bus   int     `json:"bus"`
	QMVAr float64 `json:"q_mvar"`
}

type branchJSON struct {
	From      int     `json:"from"`
	To        int     `json:"to"`
	RPU       float64 `json:"r_pu"`
	XPU       float64 `json:"x_pu"`
	RatingMVA float64 `json:"rating_mva"`
}

// Names lists the embedded case names, sorted.
func Names() []string {
	entries, err := embedded.ReadDir(".")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(out)
	return out
}

// Load builds a network from an embedded case name, or from a JSON
// case file on disk when name is a path. Unknown names return
// ErrUnknownCase; callers wanting the original tool's behaviour fall
// back to DefaultCase themselves.
func Load(name string) (*grid.Network, error) {
	if data, err := embedded.ReadFile(name + ".json"); err == nil {
		return LoadReader(bytes.NewReader(data))
	}
	if _, err := os.Stat(name); err == nil {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open case %q: %w", name, err)
		}
		defer f.Close()
		return LoadReader(f)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCase, name)
}

// LoadReader decodes a JSON case from r and populates a fresh network.
// It fails on JSON or referential errors (branches, loads, generators
// or shunts naming buses the case never declared).
func LoadReader(r io.Reader) (*grid.Network, error) {
	var payload caseJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("load case: decode failed: %w", err)
	}
	if len(payload.Buses) == 0 {
		return nil, fmt.Errorf("load case %q: no buses", payload.Name)
	}

	net := grid.NewNetwork(payload.Name, payload.MVABase)

	for _, b := range payload.Buses {
		if err := net.AddBus(&model.Bus{
			ID:     b.ID,
			Name:   b.Name,
			Type:   busTypeFromString(b.Type),
			BaseKV: b.BaseKV,
		}); err != nil {
			return nil, fmt.Errorf("load case %q: %w", payload.Name, err)
		}
	}
	for _, g := range payload.Generators {
		if err := net.AddGenerator(&model.Generator{
			BusID:    g.Bus,
			Name:     g.Name,
			PMW:      g.PMW,
			VSetPU:   g.VSetPU,
			QMinMVAr: g.QMinMVAr,
			QMaxMVAr: g.QMaxMVAr,
			IsSlack:  g.Slack,
		}); err != nil {
			return nil, fmt.Errorf("load case %q: %w", payload.Name, err)
		}
	}
	for _, ld := range payload.Loads {
		if err := net.SetLoad(ld.Bus, ld.PMW, ld.QMVAr); err != nil {
			return nil, fmt.Errorf("load case %q: %w", payload.Name, err)
		}
	}
	for _, sh := range payload.Shunts {
		if err := net.SetShuntQ(sh.Bus, sh.QMVAr); err != nil {
			return nil, fmt.Errorf("load case %q: %w", payload.Name, err)
		}
	}
	for _, br := range payload.Branches {
		if err := net.AddBranch(&model.Branch{
			FromBus:      br.From,
			ToBus:        br.To,
			ResistancePU: br.RPU,
			ReactancePU:  br.XPU,
			RatingMVA:    br.RatingMVA,
		}); err != nil {
			return nil, fmt.Errorf("load case %q: %w", payload.Name, err)
		}
	}

	return net, nil
}

// busTypeFromString maps the JSON "type" string to model constants.
// Unknown or empty values default to a plain load bus.
func busTypeFromString(s string) model.BusType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slack", "ref", "swing":
		return model.BusTypeSlack
	case "gen", "pv":
		return model.BusTypeGen
	default:
		return model.BusTypeLoad
	}
}
