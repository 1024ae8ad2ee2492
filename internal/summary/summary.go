// Package summary produces a compressed, human- and model-readable digest
// of a workspace: a file tree, per-file function/class signatures, and an
// import graph. It never aborts on a single file's parse failure.
package summary

import (
	"bufio"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var ignoredDirs = map[string]bool{
	"__pycache__":    true,
	".pytest_cache":  true,
	"node_modules":   true,
	".git":           true,
}

var (
	pyDefRe    = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(([^)]*)\)`)
	pyClassRe  = regexp.MustCompile(`^\s*class\s+(\w+)`)
	pyImportRe = regexp.MustCompile(`^\s*(?:import\s+(\S+)|from\s+(\S+)\s+import)`)

	jsFuncRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(([^)]*)\)`)
	jsArrowRe = regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(([^)]*)\)\s*=>`)
	jsClassRe = regexp.MustCompile(`^\s*(?:export\s+)?class\s+(\w+)`)
)

// Digest returns the full summary text for workspaceRoot, or the literal
// "(empty workspace)" marker when the directory is missing or has no
// files.
func Digest(workspaceRoot string) string {
	if info, err := os.Stat(workspaceRoot); err != nil || !info.IsDir() {
		return "(empty workspace)"
	}

	files := collectFiles(workspaceRoot)
	if len(files) == 0 {
		return "(empty workspace)"
	}

	var b strings.Builder
	b.WriteString("# Codebase Summary\n")

	b.WriteString("\n## File Tree\n")
	for _, f := range files {
		rel, _ := filepath.Rel(workspaceRoot, f)
		b.WriteString(fmt.Sprintf("  %s (%d lines)\n", rel, lineCount(f)))
	}

	sourceFiles := filterBySuffix(files, ".py", ".js", ".ts", ".go")
	if len(sourceFiles) > 0 {
		b.WriteString("\n## Signatures\n")
		for _, f := range sourceFiles {
			rel, _ := filepath.Rel(workspaceRoot, f)
			b.WriteString(fmt.Sprintf("\n### %s\n", rel))
			b.WriteString(signaturesFor(f))
		}

		b.WriteString("\n## Imports\n")
		for _, f := range sourceFiles {
			rel, _ := filepath.Rel(workspaceRoot, f)
			if imports := importsFor(f); len(imports) > 0 {
				b.WriteString(fmt.Sprintf("  %s: %s\n", rel, strings.Join(imports, ", ")))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func collectFiles(root string) []string {
	var files []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		for dir := range ignoredDirs {
			if strings.Contains(path, string(filepath.Separator)+dir+string(filepath.Separator)) {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files
}

func filterBySuffix(files []string, suffixes ...string) []string {
	var out []string
	for _, f := range files {
		for _, s := range suffixes {
			if strings.HasSuffix(f, s) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func lineCount(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		count++
	}
	return count
}

func signaturesFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return goSignatures(path)
	case strings.HasSuffix(path, ".py"):
		return lineBasedSignatures(path, pyDefRe, pyClassRe, "def")
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".ts"):
		return jsSignatures(path)
	default:
		return ""
	}
}

func goSignatures(path string) string {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, parser.AllErrors)
	if err != nil {
		return "  (syntax error -- could not parse)\n"
	}

	var b strings.Builder
	ast.Inspect(node, func(n ast.Node) bool {
		switch decl := n.(type) {
		case *ast.FuncDecl:
			b.WriteString(fmt.Sprintf("  func %s(...)\n", decl.Name.Name))
		case *ast.TypeSpec:
			if _, ok := decl.Type.(*ast.StructType); ok {
				b.WriteString(fmt.Sprintf("  type %s struct\n", decl.Name.Name))
			}
		}
		return true
	})
	return b.String()
}

func lineBasedSignatures(path string, defRe, classRe *regexp.Regexp, kw string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return "  (syntax error -- could not parse)\n"
	}

	var b strings.Builder
	for _, line := range strings.Split(string(content), "\n") {
		if m := defRe.FindStringSubmatch(line); m != nil {
			b.WriteString(fmt.Sprintf("  %s %s(%s)\n", kw, m[1], m[2]))
		} else if m := classRe.FindStringSubmatch(line); m != nil {
			b.WriteString(fmt.Sprintf("  class %s\n", m[1]))
		}
	}
	return b.String()
}

func jsSignatures(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return "  (syntax error -- could not parse)\n"
	}

	var b strings.Builder
	for _, line := range strings.Split(string(content), "\n") {
		if m := jsFuncRe.FindStringSubmatch(line); m != nil {
			b.WriteString(fmt.Sprintf("  function %s(%s)\n", m[1], m[2]))
		} else if m := jsArrowRe.FindStringSubmatch(line); m != nil {
			b.WriteString(fmt.Sprintf("  const %s = (%s) =>\n", m[1], m[2]))
		} else if m := jsClassRe.FindStringSubmatch(line); m != nil {
			b.WriteString(fmt.Sprintf("  class %s\n", m[1]))
		}
	}
	return b.String()
}

func importsFor(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var imports []string
	switch {
	case strings.HasSuffix(path, ".py"):
		for _, line := range strings.Split(string(content), "\n") {
			if m := pyImportRe.FindStringSubmatch(line); m != nil {
				if m[1] != "" {
					imports = append(imports, m[1])
				} else {
					imports = append(imports, m[2])
				}
			}
		}
	case strings.HasSuffix(path, ".go"):
		fset := token.NewFileSet()
		node, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err == nil {
			for _, imp := range node.Imports {
				imports = append(imports, strings.Trim(imp.Path.Value, `"`))
			}
		}
	}
	return imports
}
