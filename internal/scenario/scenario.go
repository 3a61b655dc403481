// Package scenario loads YAML descriptions of shared values and worklet starters
// and plays them on a bridge frame by frame.
package scenario

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/AnatoleLucet/worklet"
	"gopkg.in/yaml.v3"
)

type Scenario struct {
	// Frames is the number of frames rendered after the triggers.
	Frames int `yaml:"frames"`

	Values   []Value           `yaml:"values"`
	Worklets map[string]string `yaml:"worklets"`
	Starters []Starter         `yaml:"starters"`

	// Triggers lists starter ids, triggered in order before the first frame.
	Triggers []int `yaml:"triggers"`

	// Unregister lists ids removed after the last frame.
	Unregister []int `yaml:"unregister"`
}

type Value struct {
	ID    int `yaml:"id"`
	Value any `yaml:"value"`
}

type Starter struct {
	ID      int    `yaml:"id"`
	Worklet string `yaml:"worklet"`
	Args    []int  `yaml:"args"`
}

// Load reads and validates the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	return &sc, nil
}

// Validate checks the scenario is self consistent. Arguments naming unknown ids
// are allowed: they are reported as resolution errors when triggered.
func (sc *Scenario) Validate() error {
	if sc.Frames < 0 {
		return fmt.Errorf("invalid scenario: frames must not be negative, got %d", sc.Frames)
	}

	ids := make(map[int]struct{})
	claim := func(id int) error {
		if _, ok := ids[id]; ok {
			return fmt.Errorf("invalid scenario: id %d declared twice", id)
		}
		ids[id] = struct{}{}
		return nil
	}

	for _, v := range sc.Values {
		if err := claim(v.ID); err != nil {
			return err
		}
	}

	for _, s := range sc.Starters {
		if err := claim(s.ID); err != nil {
			return err
		}
		if _, ok := sc.Worklets[s.Worklet]; !ok {
			return fmt.Errorf("invalid scenario: starter %d uses unknown worklet %q", s.ID, s.Worklet)
		}
	}

	for _, id := range sc.Triggers {
		if !slices.ContainsFunc(sc.Starters, func(s Starter) bool { return s.ID == id }) {
			return fmt.Errorf("invalid scenario: trigger %d is not a starter", id)
		}
	}

	return nil
}

type Result struct {
	// Applier id of each successful trigger, by starter id.
	Triggered map[int]int

	// Final value of each plain shared value, by id.
	Values map[int]any

	Frames  int
	Active  int
	Reports []worklet.Report
}

// Run registers the scenario on b, triggers the starters and renders the frames
// on the calling goroutine.
func Run(b *worklet.Bridge, sc *Scenario) (*Result, error) {
	compiled := make(map[string]worklet.Worklet, len(sc.Worklets))
	for name, source := range sc.Worklets {
		w, err := worklet.CompileWorklet(name, source)
		if err != nil {
			return nil, err
		}
		compiled[name] = w
	}

	values := make(map[int]*worklet.Mutable[any], len(sc.Values))
	for _, v := range sc.Values {
		values[v.ID] = worklet.NewMutable[any](b, v.ID, v.Value)
	}

	starters := make(map[int]*worklet.Starter, len(sc.Starters))
	for _, s := range sc.Starters {
		starters[s.ID] = b.NewStarter(s.ID, compiled[s.Worklet], s.Args...)
	}

	res := &Result{
		Triggered: make(map[int]int),
		Values:    make(map[int]any),
	}

	for _, id := range sc.Triggers {
		if applierID, ok := starters[id].Trigger(); ok {
			res.Triggered[id] = applierID
		}
	}

	for range sc.Frames {
		b.Frame()
		res.Frames++
	}

	for id, v := range values {
		res.Values[id] = v.Get()
	}

	for _, id := range sc.Unregister {
		b.Unregister(id)
	}

	res.Active = b.Active()
	res.Reports = b.Reports()

	return res, nil
}

// Write prints the result in a stable order.
func (r *Result) Write(w io.Writer) {
	fmt.Fprintf(w, "frames: %d, active appliers: %d\n", r.Frames, r.Active)

	for _, id := range sortedKeys(r.Triggered) {
		fmt.Fprintf(w, "starter %d -> applier %d\n", id, r.Triggered[id])
	}

	for _, id := range sortedKeys(r.Values) {
		fmt.Fprintf(w, "value %d = %v\n", id, r.Values[id])
	}

	for _, report := range r.Reports {
		fmt.Fprintf(w, "error %s\n", report.Err)
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
