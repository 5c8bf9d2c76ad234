package runtime

import (
	"context"
	"errors"
	"fmt"

	"PodLedger/internal/podvm"
	"PodLedger/internal/types"
)

// ErrClassNotFound is returned for classes that no jar of a class loader defines.
var ErrClassNotFound = errors.New("class not found")

// ModuleLoader compiles wasm modules.
type ModuleLoader interface {
	Load(ctx context.Context, wasm []byte) (podvm.ModuleID, error)
}

// Reverifier flushes the jar responses rewritten while a class loader was built.
type Reverifier interface {
	Replace() error
}

// LoadedJar is a verified jar as seen by a class loader.
type LoadedJar struct {
	Ref                 types.TransactionReference   // Ref is the transaction that installed the jar
	Jar                 *types.Jar                   // Jar is the decoded instrumented jar
	Size                int                          // Size is the size of the instrumented jar
	Dependencies        []types.TransactionReference // Dependencies are the jars it depends on
	VerificationVersion uint32                       // VerificationVersion is the version it was verified with
}

// ClassLoader resolves classes of a set of jars.
type ClassLoader struct {
	roots      []types.TransactionReference // roots are the jars the loader was asked for
	jars       []LoadedJar                  // jars are all loaded jars, dependencies first
	classes    map[string]*Class            // classes maps names to linked classes
	size       int                          // size is the cumulative size of the jars
	reverifier Reverifier                   // reverifier flushes reverified responses, may be nil
}

// NewClassLoader links the classes of jars, given dependencies first. The
// modules of wasm jars are compiled through modules, which may be nil if
// every jar is native.
func NewClassLoader(ctx context.Context, roots []types.TransactionReference, jars []LoadedJar, modules ModuleLoader, reverifier Reverifier) (*ClassLoader, error) {
	l := &ClassLoader{
		roots:      roots,
		jars:       jars,
		classes:    make(map[string]*Class),
		reverifier: reverifier,
	}

	defs := make(map[string]*Class)

	for _, jar := range jars {
		l.size += jar.Size

		var module podvm.ModuleID
		if !jar.Jar.IsNative() {
			if modules == nil {
				return nil, fmt.Errorf("jar %s needs a module loader", jar.Ref.Short())
			}

			id, err := modules.Load(ctx, jar.Jar.Module)
			if err != nil {
				return nil, fmt.Errorf("load module of jar %s:\n%w", jar.Ref.Short(), err)
			}
			module = id
		}

		for i := range jar.Jar.Classes {
			def := &jar.Jar.Classes[i]
			if _, exists := defs[def.Name]; exists {
				return nil, fmt.Errorf("class %s defined twice", def.Name)
			}

			defs[def.Name] = &Class{Def: def, Jar: jar.Ref, Native: jar.Jar.Library, Module: module}
		}
	}

	for name := range defs {
		if _, err := l.link(name, defs, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// link resolves the superclass chain of a class and computes its fields.
func (l *ClassLoader) link(name string, defs map[string]*Class, visiting map[string]bool) (*Class, error) {
	if c, ok := l.classes[name]; ok {
		return c, nil
	}

	c, ok := defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	if visiting[name] {
		return nil, fmt.Errorf("cyclic inheritance at %s", name)
	}
	visiting[name] = true

	if c.Def.Superclass != "" {
		super, err := l.link(c.Def.Superclass, defs, visiting)
		if err != nil {
			return nil, fmt.Errorf("superclass of %s:\n%w", name, err)
		}
		c.Super = super
	}

	c.link()
	l.classes[name] = c

	return c, nil
}

// Class returns the class with the given name.
func (l *ClassLoader) Class(name string) (*Class, error) {
	c, ok := l.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	return c, nil
}

// Roots returns the jars the loader was built for.
func (l *ClassLoader) Roots() []types.TransactionReference {
	return l.roots
}

// Jars returns the loaded jars, dependencies first.
func (l *ClassLoader) Jars() []LoadedJar {
	return l.jars
}

// Size returns the cumulative size of the loaded jars.
func (l *ClassLoader) Size() int {
	return l.size
}

// ReplaceReverifiedResponses stores the jar responses rewritten while the
// loader was built. Later calls do nothing.
func (l *ClassLoader) ReplaceReverifiedResponses() error {
	if l.reverifier == nil {
		return nil
	}

	return l.reverifier.Replace()
}
