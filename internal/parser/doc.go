// Package parser finds the top-level declarations of Go source files so the
// chunker can cut files on declaration boundaries.
//
// # Basic Usage
//
//	p := parser.New()
//	result := p.Parse("server.go", src)
//	for _, d := range result.Decls {
//	    fmt.Printf("%s %s lines %d-%d\n", d.Kind, d.Name, d.StartLine, d.EndLine)
//	}
//
// A declaration's StartLine includes its doc comment. Methods are named
// Receiver.Method. Grouped const, var and type blocks are reported as a
// single declaration named after their first spec.
//
// # Error Handling
//
// Syntax errors do not fail a parse. They are recorded in Result.Errors and
// any declarations recovered from the partial AST are still returned, which
// lets indexing continue over files that do not compile.
package parser
