package value

// VarLike is satisfied by runtime.Var. value can't import runtime
// (runtime imports value for Var's root Value), so first-class var
// references (`#'ns/sym`) carry a VarLike instead of a concrete *Var.
type VarLike interface {
	Deref() Value
	VarNamespace() string
	VarName() string
	IsMacro() bool
	IsDynamic() bool
}

// VarRef is the `var_ref` variant produced by `#'sym` and by `var`.
type VarRef struct {
	Namespace string
	Name      string
	Target    VarLike
}

func (v *VarRef) Kind() Type      { return TVarRef }
func (v *VarRef) Inspect() string { return "#'" + v.Namespace + "/" + v.Name }
func (v *VarRef) Hash() uint32    { return uint32(uintptr(0)) ^ fnv32(v.Namespace+"/"+v.Name) }

func (v *VarRef) Deref() Value {
	if v.Target == nil {
		return Nil
	}
	return v.Target.Deref()
}

func NewVarRef(target VarLike, ns, name string) *VarRef {
	return &VarRef{Namespace: ns, Name: name, Target: target}
}
