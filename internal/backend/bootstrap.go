package backend

import (
	"github.com/lumen-run/lumen/internal/analyzer"
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/config"
	"github.com/lumen-run/lumen/internal/corelib"
	"github.com/lumen-run/lumen/internal/reader"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/treewalk"
	"github.com/lumen-run/lumen/internal/value"
)

// coreSourceFile is the bundled library's nominal filename, reported in
// reader/analyzer error locations during bootstrap.
const coreSourceFile = "core" + config.SourceFileExt

// Session is a fully bootstrapped evaluation session: an Environment
// with the native builtins and bundled standard library already
// loaded, plus the Dispatcher both engines and the analyzer's macro
// expansion go through.
type Session struct {
	Env        *runtime.Environment
	Dispatcher *Dispatcher
}

// NewSession builds an Environment, wires the VM/tree-walk bridge,
// installs the native builtins, and loads core.lmn through the
// tree-walk engine — the bundled library is always interpreted rather
// than compiled, since it only runs once per session and compiling it
// would buy nothing but startup latency.
func NewSession() (*Session, error) {
	env := runtime.NewEnvironment()
	d := New(env)

	coreNS := env.FindOrCreateNamespace(runtime.CoreNamespace)
	corelib.Install(coreNS)

	if err := loadSource(env, d, coreNS, corelib.Source(), coreSourceFile); err != nil {
		return nil, err
	}

	userNS := env.FindOrCreateNamespace(runtime.UserNamespace)
	env.ReferAll(userNS, coreNS)
	env.SetCurrentNamespace(userNS)

	return &Session{Env: env, Dispatcher: d}, nil
}

// loadSource reads, analyzes, and runs source against ns through a
// throwaway tree-walk evaluator scoped to that namespace (the shared
// Dispatcher.TW instance is only used for cross-backend Apply calls,
// where no particular namespace binding is needed).
func loadSource(env *runtime.Environment, d *Dispatcher, ns *runtime.Namespace, source, file string) error {
	r := reader.New(source, file, env.Interner)
	forms, err := r.ReadAll()
	if err != nil {
		return err
	}

	prog, err := analyzeForms(env, ns, d, forms)
	if err != nil {
		return err
	}

	tw := treewalk.New(env, ns)
	_, err = tw.Run(prog)
	return err
}

func analyzeForms(env *runtime.Environment, ns *runtime.Namespace, d *Dispatcher, forms []reader.Form) (*ast.Program, error) {
	a := analyzer.New(env, ns, d)
	vs := make([]value.Value, len(forms))
	for i, f := range forms {
		vs[i] = f.Value
	}
	pos := ast.Pos{}
	if len(forms) > 0 {
		pos = forms[0].Pos
	}
	return a.AnalyzeProgram(vs, pos)
}
