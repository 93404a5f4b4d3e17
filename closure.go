package esh

// Closure binds a FunctionTemplate to the environment it closed over.
// Closures are always const (spec.md §3, §9): once built, neither the
// template nor the captured environment pointer can be reassigned.
type Closure struct {
	Template    *FunctionTemplate
	Env         *Environment
	IsCoroutine bool
}

// Environment is a heap record of local slots plus an optional parent
// link, allocated only for function templates whose locals may be
// captured by a nested closure (UpvalLocal == true), per spec.md §3.
type Environment struct {
	Locals []Value
	Parent *Environment
}

// newClosureObject allocates a heap Closure object, linking it into the
// GC's unvisited list.
func (s *State) newClosureObject(tmpl *FunctionTemplate, env *Environment, isCoroutine bool) *Object {
	o := s.allocObject(objClosure, closureType)
	o.isConst = true
	o.closure = &Closure{Template: tmpl, Env: env, IsCoroutine: isCoroutine}
	return o
}

func (s *State) newEnvObject(nLocals int) *Object {
	o := s.allocObject(objEnv, envType)
	o.env = &Environment{Locals: make([]Value, nLocals)}
	return o
}

func (s *State) newTemplateObject(tmpl *FunctionTemplate) *Object {
	o := s.allocObject(objTemplate, templateType)
	o.isConst = true
	o.template = tmpl
	return o
}

var (
	stringType   = &TypeDescriptor{Name: "string"}
	templateType = &TypeDescriptor{Name: "function implementation"}
	closureType  = &TypeDescriptor{Name: "function"}
	envType      = &TypeDescriptor{Name: "function environment"}
)
