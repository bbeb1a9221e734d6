package gen

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"path/filepath"
	"sort"

	"golang.org/x/tools/go/packages"
)

// TypeDecl is one named type to generate methods for.
type TypeDecl struct {
	Name   string
	Path   string // import path qualified name
	File   string // relative to the module root, slash separated
	Line   int
	Column int
	UID    bool       // emit TypeUID
	Cases  []EnumCase // emit EnumCases
}

// IsEnum reports whether the type gets EnumCases.
func (d TypeDecl) IsEnum() bool { return d.Cases != nil }

// EnumCase is a package-level constant of an enum type.
type EnumCase struct {
	Name  string
	Value int64
}

// PackageInfo is everything generated into one package.
type PackageInfo struct {
	Name  string
	Path  string
	Dir   string
	Types []TypeDecl
}

// Loader finds the types to generate for.
type Loader interface {
	Load(cfg *Config) ([]PackageInfo, error)
}

type loaderImpl struct{}

// NewLoader returns a Loader backed by go/packages.
func NewLoader() Loader {
	return &loaderImpl{}
}

func (l *loaderImpl) Load(cfg *Config) ([]PackageInfo, error) {
	pcfg := &packages.Config{
		Dir: cfg.Dir,
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedSyntax |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedModule,
	}
	pkgs, err := packages.Load(pcfg, cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", cfg.Pattern, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("pattern %q has compilation errors", cfg.Pattern)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("pattern %q matched no packages", cfg.Pattern)
	}

	out := make([]PackageInfo, 0, len(pkgs))
	for _, pkg := range pkgs {
		info, err := inspect(pkg, cfg)
		if err != nil {
			return nil, err
		}
		if len(info.Types) > 0 {
			out = append(out, info)
		}
	}
	return out, nil
}

func inspect(pkg *packages.Package, cfg *Config) (PackageInfo, error) {
	if pkg.Module == nil {
		return PackageInfo{}, fmt.Errorf("package %q is not part of a module", pkg.PkgPath)
	}
	if len(pkg.GoFiles) == 0 {
		return PackageInfo{}, fmt.Errorf("package %q has no Go files", pkg.PkgPath)
	}
	info := PackageInfo{
		Name: pkg.Name,
		Path: pkg.PkgPath,
		Dir:  filepath.Dir(pkg.GoFiles[0]),
	}
	generated := filepath.Join(info.Dir, cfg.Output)

	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, spec := range gd.Specs {
				ts := spec.(*ast.TypeSpec)
				if ts.TypeParams != nil || ts.Assign.IsValid() || !cfg.Wants(ts.Name.Name) {
					continue
				}
				obj, ok := pkg.TypesInfo.Defs[ts.Name].(*types.TypeName)
				if !ok {
					continue
				}
				named, ok := obj.Type().(*types.Named)
				if !ok {
					continue
				}
				d, ok, err := declOf(pkg, named, ts, generated)
				if err != nil {
					return PackageInfo{}, err
				}
				if ok {
					info.Types = append(info.Types, d)
				}
			}
		}
	}
	return info, nil
}

func declOf(pkg *packages.Package, named *types.Named, ts *ast.TypeSpec, generated string) (TypeDecl, bool, error) {
	pos := pkg.Fset.Position(ts.Name.Pos())
	rel, err := filepath.Rel(pkg.Module.Dir, pos.Filename)
	if err != nil {
		return TypeDecl{}, false, fmt.Errorf("locate %s: %w", ts.Name.Name, err)
	}
	d := TypeDecl{
		Name:   ts.Name.Name,
		Path:   pkg.PkgPath + "." + ts.Name.Name,
		File:   filepath.ToSlash(rel),
		Line:   pos.Line,
		Column: pos.Column,
	}

	d.UID = !declares(pkg, named, "TypeUID", generated)

	switch under := named.Underlying().(type) {
	case *types.Struct:
	case *types.Basic:
		if under.Info()&types.IsInteger == 0 {
			return d, false, nil
		}
		if !declares(pkg, named, "EnumCases", generated) {
			if d.Cases = casesOf(pkg, named); len(d.Cases) == 0 {
				return d, false, nil
			}
		}
	default:
		return d, false, nil
	}
	return d, d.UID || d.IsEnum(), nil
}

// declares reports whether named itself has a method or field called name
// outside the generated file. Promoted methods do not count.
func declares(pkg *packages.Package, named *types.Named, name, generated string) bool {
	obj, index, _ := types.LookupFieldOrMethod(types.NewPointer(named), false, pkg.Types, name)
	if obj == nil || len(index) > 1 {
		return false
	}
	return pkg.Fset.Position(obj.Pos()).Filename != generated
}

// casesOf returns the package-level constants of type named in source order.
func casesOf(pkg *packages.Package, named *types.Named) []EnumCase {
	type located struct {
		pos token.Pos
		c   EnumCase
	}
	var found []located
	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		c, ok := scope.Lookup(name).(*types.Const)
		if !ok || !types.Identical(c.Type(), named) || name == "_" {
			continue
		}
		v, exact := constant.Int64Val(constant.ToInt(c.Val()))
		if !exact {
			continue
		}
		found = append(found, located{pos: c.Pos(), c: EnumCase{Name: name, Value: v}})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	out := make([]EnumCase, len(found))
	for i, f := range found {
		out[i] = f.c
	}
	return out
}
