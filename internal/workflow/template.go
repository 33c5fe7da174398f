package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/benford266/ComfyImageGen/internal/clients/comfyui"

	"github.com/tidwall/gjson"
)

var (
	ErrTemplateUnavailable = errors.New("workflow template unavailable")
	ErrTemplateNotBound    = errors.New("workflow template not loaded")
)

type Role string

const (
	RolePrompt   Role = "prompt"
	RoleNegative Role = "negative"
	RoleSize     Role = "size"
	RoleSampler  Role = "sampler"
	RoleOutput   Role = "output"
)

// Roles maps each logical role to the node id that carries it in the graph.
type Roles struct {
	Prompt   string
	Negative string
	Size     string
	Sampler  string
	Output   string
}

// DefaultRoles matches the node layout of the stock ComfyUI text-to-image graph.
func DefaultRoles() Roles {
	return Roles{Prompt: "6", Negative: "7", Size: "5", Sampler: "3", Output: "9"}
}

// trimmed drops surrounding whitespace from every node id so the ids that are
// validated are the ids that get written.
func (r Roles) trimmed() Roles {
	return Roles{
		Prompt:   strings.TrimSpace(r.Prompt),
		Negative: strings.TrimSpace(r.Negative),
		Size:     strings.TrimSpace(r.Size),
		Sampler:  strings.TrimSpace(r.Sampler),
		Output:   strings.TrimSpace(r.Output),
	}
}

func (r Roles) NodeID(role Role) string {
	switch role {
	case RolePrompt:
		return r.Prompt
	case RoleNegative:
		return r.Negative
	case RoleSize:
		return r.Size
	case RoleSampler:
		return r.Sampler
	case RoleOutput:
		return r.Output
	}
	return ""
}

// Template is the loaded workflow graph. The bytes are never written after Parse,
// so one Template is shared by every request.
type Template struct {
	raw   []byte
	roles Roles
}

func Load(path string, roles Roles) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err)
	}
	return Parse(data, roles)
}

func Parse(data []byte, roles Roles) (*Template, error) {
	roles = roles.trimmed()
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: not a json object", ErrTemplateUnavailable)
	}

	for _, role := range []Role{RolePrompt, RoleNegative, RoleSize, RoleSampler} {
		id := roles.NodeID(role)
		if id == "" {
			return nil, fmt.Errorf("%w: no node configured for role %s", ErrTemplateUnavailable, role)
		}
		if !gjson.GetBytes(data, nodePath(id, "inputs")).IsObject() {
			return nil, fmt.Errorf("%w: node %q (%s) has no inputs", ErrTemplateUnavailable, id, role)
		}
	}
	if out := roles.NodeID(RoleOutput); out == "" || !gjson.GetBytes(data, comfyui.PathKey(out)).IsObject() {
		return nil, fmt.Errorf("%w: output node %q missing", ErrTemplateUnavailable, out)
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return &Template{raw: raw, roles: roles}, nil
}

func (t *Template) Roles() Roles {
	return t.roles
}

// Bytes returns a private copy of the graph.
func (t *Template) Bytes() []byte {
	out := make([]byte, len(t.raw))
	copy(out, t.raw)
	return out
}

// Input reads one input field of the node that carries role.
func (t *Template) Input(role Role, field string) gjson.Result {
	return gjson.GetBytes(t.raw, inputPath(t.roles.NodeID(role), field))
}

// Store holds the process-wide template. It is empty until Set is called at startup.
type Store struct {
	tpl atomic.Pointer[Template]
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Set(tpl *Template) {
	s.tpl.Store(tpl)
}

func (s *Store) Template() (*Template, error) {
	tpl := s.tpl.Load()
	if tpl == nil {
		return nil, ErrTemplateNotBound
	}
	return tpl, nil
}

func (s *Store) Bind(req Request) (Job, error) {
	tpl, err := s.Template()
	if err != nil {
		return Job{}, err
	}
	return Bind(tpl, req)
}

func nodePath(id, key string) string {
	return comfyui.PathKey(id) + "." + key
}

func inputPath(id, field string) string {
	return comfyui.PathKey(id) + ".inputs." + comfyui.PathKey(field)
}
