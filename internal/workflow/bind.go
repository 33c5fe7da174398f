package workflow

import (
	"fmt"
	"math/rand/v2"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaxSeed is the exclusive upper bound of generated sampler seeds.
const MaxSeed = 1_000_000_000_000_000

// Job is a template bound to one request. Graph is owned by the caller.
type Job struct {
	Graph []byte
	Seed  int64
	roles Roles
}

func (j Job) Input(role Role, field string) gjson.Result {
	return gjson.GetBytes(j.Graph, inputPath(j.roles.NodeID(role), field))
}

func (j Job) Roles() Roles {
	return j.roles
}

// Bind writes the request into a copy of tpl. Only the prompt, negative prompt,
// size and sampler inputs change.
func Bind(tpl *Template, req Request) (Job, error) {
	if tpl == nil {
		return Job{}, ErrTemplateNotBound
	}
	req = req.withDefaults()

	seed := randomSeed()
	if req.Seed != nil {
		seed = *req.Seed
	}

	r := tpl.roles
	writes := []struct {
		path  string
		value any
	}{
		{inputPath(r.Prompt, "text"), req.Prompt},
		{inputPath(r.Negative, "text"), req.NegativePrompt},
		{inputPath(r.Size, "width"), req.Width},
		{inputPath(r.Size, "height"), req.Height},
		{inputPath(r.Sampler, "steps"), req.Steps},
		{inputPath(r.Sampler, "cfg"), req.CFG},
		{inputPath(r.Sampler, "seed"), seed},
	}

	// sjson copies on write, so tpl.raw is never touched
	graph := tpl.raw
	for _, w := range writes {
		next, err := sjson.SetBytes(graph, w.path, w.value)
		if err != nil {
			return Job{}, fmt.Errorf("bind %s: %w", w.path, err)
		}
		graph = next
	}

	return Job{Graph: graph, Seed: seed, roles: r}, nil
}

// randomSeed is for sampler variety only, not for anything secret.
func randomSeed() int64 {
	return rand.Int64N(MaxSeed)
}
