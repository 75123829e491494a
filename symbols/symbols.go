// Package symbols locates Python modules under a set of search roots and
// extracts their top-level class and function definitions.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PathKey is the pseudo-symbol reported for a package. Its File is the
// package directory.
const PathKey = "__path__"

const (
	packageInitFile = "__init__.py"
	sourceExt       = ".py"
)

// ErrModuleNotFound is returned when no search root holds the requested module.
var ErrModuleNotFound = errors.New("module not found")

// Kind classifies a Symbol.
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
	KindPackage  Kind = "package"
)

// Symbol is one top-level definition of a module.
type Symbol struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	File   string `json:"file"`
	Lineno int    `json:"lineno"`
	Kind   Kind   `json:"kind"`
}

// ContentReader reads file content given a file path.
type ContentReader func(filePath string) ([]byte, error)

// Extractor reads modules through a ContentReader and parses them with tree-sitter.
type Extractor struct {
	read ContentReader
}

// NewExtractor returns an Extractor reading files with read, or from the
// filesystem when read is nil.
func NewExtractor(read ContentReader) *Extractor {
	if read == nil {
		read = os.ReadFile
	}
	return &Extractor{read: read}
}

// Extract returns the top-level symbols of module keyed by name. Lookup is
// restricted to roots. When a name is bound more than once the last binding
// wins. A package additionally reports the PathKey pseudo-symbol.
//
// Module-level "from m import name" statements bind the definitions of m
// under the imported name. The imported symbols keep the module and file
// that define them. Imports of modules that cannot be found under roots are
// ignored.
func (e *Extractor) Extract(module string, roots []string) (map[string]Symbol, error) {
	return e.extract(module, roots, map[string]bool{})
}

func (e *Extractor) extract(module string, roots []string, visiting map[string]bool) (map[string]Symbol, error) {
	visiting[module] = true
	defer delete(visiting, module)

	file, isPackage, err := FindModuleFile(module, roots)
	if err != nil {
		return nil, err
	}

	source, err := e.read(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	stmts, err := parseModule(module, file, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}

	result := make(map[string]Symbol, len(stmts)+1)
	if isPackage {
		result[PathKey] = Symbol{
			Module: module,
			Name:   PathKey,
			File:   filepath.Dir(file),
			Kind:   KindPackage,
		}
	}
	for _, stmt := range stmts {
		if stmt.def != nil {
			result[stmt.def.Name] = *stmt.def
			continue
		}
		e.bindImport(result, *stmt.imp, module, isPackage, roots, visiting)
	}
	return result, nil
}

func (e *Extractor) bindImport(result map[string]Symbol, imp importFrom, module string, isPackage bool, roots []string, visiting map[string]bool) {
	target, ok := imp.target(module, isPackage)
	if !ok || visiting[target] {
		return
	}

	imported, err := e.extract(target, roots, visiting)
	if err != nil {
		return
	}

	if imp.wildcard {
		for name, sym := range imported {
			if !strings.HasPrefix(name, "_") {
				result[name] = sym
			}
		}
		return
	}

	for _, n := range imp.names {
		sym, ok := imported[n.name]
		if !ok || sym.Kind == KindPackage {
			continue
		}
		key := n.name
		if n.alias != "" {
			key = n.alias
		}
		result[key] = sym
	}
}

// FindModuleFile returns the file defining module under the first root that
// holds it. Every parent package must have an __init__.py, and a package
// directory takes precedence over a same-named .py file.
func FindModuleFile(module string, roots []string) (string, bool, error) {
	if module == "" {
		return "", false, ErrModuleNotFound
	}

	parts := strings.Split(module, ".")
	parents, last := parts[:len(parts)-1], parts[len(parts)-1]

	for _, root := range roots {
		dir, ok := packageDir(root, parents)
		if !ok {
			continue
		}
		if initPath := filepath.Join(dir, last, packageInitFile); isFile(initPath) {
			return initPath, true, nil
		}
		if filePath := filepath.Join(dir, last+sourceExt); isFile(filePath) {
			return filePath, false, nil
		}
	}

	return "", false, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
}

func packageDir(root string, parents []string) (string, bool) {
	dir := root
	for _, name := range parents {
		dir = filepath.Join(dir, name)
		if !isFile(filepath.Join(dir, packageInitFile)) {
			return "", false
		}
	}
	return dir, true
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ParseSymbols parses Python source and returns its module-level classes and
// functions in source order. Definitions guarded by module-level compound
// statements (if, try, with, for, while) count as module level; methods and
// nested functions do not.
func ParseSymbols(module, file string, source []byte) ([]Symbol, error) {
	stmts, err := parseModule(module, file, source)
	if err != nil {
		return nil, err
	}

	var defs []Symbol
	for _, stmt := range stmts {
		if stmt.def != nil {
			defs = append(defs, *stmt.def)
		}
	}
	return defs, nil
}

// statement is either a definition or a from-import, in source order.
type statement struct {
	def *Symbol
	imp *importFrom
}

type importedName struct {
	name  string
	alias string
}

// importFrom is a module-level "from <module> import <names>" statement.
type importFrom struct {
	module   string
	level    int
	names    []importedName
	wildcard bool
}

// target returns the absolute module path imported from by a statement in
// module. Relative imports climb from the package holding module.
func (imp importFrom) target(module string, isPackage bool) (string, bool) {
	if imp.level == 0 {
		return imp.module, imp.module != ""
	}

	parts := strings.Split(module, ".")
	if !isPackage {
		parts = parts[:len(parts)-1]
	}
	keep := len(parts) - (imp.level - 1)
	if keep < 1 {
		return "", false
	}
	parts = parts[:keep]
	if imp.module != "" {
		parts = append(parts, imp.module)
	}
	return strings.Join(parts, "."), true
}

func parseModule(module, file string, source []byte) ([]statement, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Python code: %w", err)
	}
	defer tree.Close()

	var stmts []statement
	collectStatements(tree.RootNode(), true,
		func(node *sitter.Node, kind Kind) {
			name := node.ChildByFieldName("name")
			if name == nil {
				return
			}
			stmts = append(stmts, statement{def: &Symbol{
				Module: module,
				Name:   name.Content(source),
				File:   file,
				Lineno: int(node.StartPoint().Row) + 1,
				Kind:   kind,
			}})
		},
		func(node *sitter.Node) {
			if imp, ok := parseImportFrom(node, source); ok {
				stmts = append(stmts, statement{imp: &imp})
			}
		})
	return stmts, nil
}

// collectStatements visits definitions at module level, descending into
// compound statements. Imports are visited only when they sit directly in the
// module body.
func collectStatements(node *sitter.Node, topLevel bool, visit func(*sitter.Node, Kind), visitImport func(*sitter.Node)) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		switch child.Type() {
		case "class_definition":
			visit(child, KindClass)
		case "function_definition":
			visit(child, KindFunction)
		case "decorated_definition":
			def := child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			switch def.Type() {
			case "class_definition":
				visit(def, KindClass)
			case "function_definition":
				visit(def, KindFunction)
			}
		case "import_from_statement":
			if topLevel {
				visitImport(child)
			}
		case "if_statement", "elif_clause", "else_clause",
			"try_statement", "except_clause", "except_group_clause", "finally_clause",
			"with_statement", "for_statement", "while_statement", "block":
			collectStatements(child, false, visit, visitImport)
		}
	}
}

func parseImportFrom(node *sitter.Node, source []byte) (importFrom, bool) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return importFrom{}, false
	}

	var imp importFrom
	switch moduleNode.Type() {
	case "dotted_name":
		imp.module = dottedName(moduleNode, source)
	case "relative_import":
		for i := 0; i < int(moduleNode.NamedChildCount()); i++ {
			child := moduleNode.NamedChild(i)
			switch child.Type() {
			case "import_prefix":
				imp.level = strings.Count(child.Content(source), ".")
			case "dotted_name":
				imp.module = dottedName(child, source)
			}
		}
	default:
		return importFrom{}, false
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil || child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Type() {
		case "wildcard_import":
			imp.wildcard = true
		case "dotted_name":
			imp.names = append(imp.names, importedName{name: dottedName(child, source)})
		case "aliased_import":
			name := child.ChildByFieldName("name")
			alias := child.ChildByFieldName("alias")
			if name == nil || alias == nil {
				continue
			}
			imp.names = append(imp.names, importedName{
				name:  dottedName(name, source),
				alias: alias.Content(source),
			})
		}
	}
	return imp, true
}

func dottedName(node *sitter.Node, source []byte) string {
	return strings.Join(strings.Fields(node.Content(source)), "")
}
