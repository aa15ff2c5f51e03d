package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// DeclKind classifies a top-level declaration
type DeclKind string

const (
	KindFunction  DeclKind = "function"
	KindMethod    DeclKind = "method"
	KindStruct    DeclKind = "struct"
	KindInterface DeclKind = "interface"
	KindType      DeclKind = "type"
	KindConst     DeclKind = "const"
	KindVar       DeclKind = "var"
	KindImport    DeclKind = "import"
)

// Decl is a top-level declaration with its line span. StartLine includes the
// attached doc comment.
type Decl struct {
	Name      string
	Kind      DeclKind
	StartLine int
	EndLine   int
}

// Result holds the outcome of parsing a single Go file
type Result struct {
	Decls  []Decl
	Errors []string
}

// HasErrors reports whether the source had syntax errors
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Parser handles AST-based parsing of Go source files
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// Parse parses Go source and returns its top-level declarations in source
// order. Syntax errors are recorded on the result rather than returned, and
// whatever declarations the partial AST holds are still reported.
func (p *Parser) Parse(filename string, src []byte) *Result {
	result := &Result{}

	// A fresh FileSet per call keeps memory bounded and the parser safe to
	// share between indexing workers
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result
	}

	e := &extractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			result.Decls = append(result.Decls, e.function(d))
		case *ast.GenDecl:
			result.Decls = append(result.Decls, e.genDecl(d))
		}
	}

	return result
}

type extractor struct {
	fset *token.FileSet
}

func (e *extractor) span(doc *ast.CommentGroup, node ast.Node) (int, int) {
	start := node.Pos()
	if doc != nil && doc.Pos() < start {
		start = doc.Pos()
	}
	return e.fset.Position(start).Line, e.fset.Position(node.End()).Line
}

func (e *extractor) function(fn *ast.FuncDecl) Decl {
	d := Decl{Name: fn.Name.Name, Kind: KindFunction}
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		d.Kind = KindMethod
		if recv := receiverType(fn.Recv.List[0].Type); recv != "" {
			d.Name = recv + "." + fn.Name.Name
		}
	}
	d.StartLine, d.EndLine = e.span(fn.Doc, fn)
	return d
}

// genDecl covers grouped declarations as one unit. The name is the first
// spec's name, which is what a reader would search for.
func (e *extractor) genDecl(gd *ast.GenDecl) Decl {
	var d Decl

	switch gd.Tok {
	case token.IMPORT:
		d.Kind = KindImport
		d.Name = "import"
	case token.CONST:
		d.Kind = KindConst
	case token.VAR:
		d.Kind = KindVar
	case token.TYPE:
		d.Kind = KindType
	}

	if len(gd.Specs) > 0 {
		switch s := gd.Specs[0].(type) {
		case *ast.TypeSpec:
			d.Name = s.Name.Name
			switch s.Type.(type) {
			case *ast.StructType:
				d.Kind = KindStruct
			case *ast.InterfaceType:
				d.Kind = KindInterface
			}
		case *ast.ValueSpec:
			if len(s.Names) > 0 {
				d.Name = s.Names[0].Name
			}
		}
	}

	d.StartLine, d.EndLine = e.span(gd.Doc, gd)
	return d
}

// receiverType extracts the receiver type name, ignoring pointers and type
// parameters
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}
