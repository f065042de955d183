package main

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type repoField struct {
	Name     string `json:"name"`
	RepoType string `json:"repo_type"`
}

type methodStats struct {
	StructName        string   `json:"struct_name"`
	Method            string   `json:"method"`
	File              string   `json:"file"`
	Line              int      `json:"line"`
	RepoWriteCalls    int      `json:"repo_write_calls"`
	WritesInsideTx    int      `json:"writes_inside_tx"`
	WritesOutsideTx   int      `json:"writes_outside_tx"`
	RepoFieldsWritten []string `json:"repo_fields_written"`
	OutsideTxCalls    []string `json:"outside_tx_calls,omitempty"`
}

type txReport struct {
	ServiceLayerRepoWriteCallsites int           `json:"service_layer_repo_write_callsites"`
	WritesInsideTx                 int           `json:"writes_inside_tx"`
	WritesOutsideTx                int           `json:"writes_outside_tx"`
	MethodsWithWrites              int           `json:"methods_with_writes"`
	MethodsCoordinating2PlusRepos  int           `json:"methods_coordinating_2plus_repos"`
	Methods                        []methodStats `json:"methods"`
	OutsideTxMethods               []methodStats `json:"outside_tx_methods"`
	RepoFieldInventory             []repoField   `json:"repo_field_inventory"`
}

// Write methods on the repo layer. LockByID belongs here: a row lock taken
// outside a transaction is released immediately and protects nothing.
var repoWriteMethods = map[string]bool{
	"Create":           true,
	"UpdateFields":     true,
	"Delete":           true,
	"DeleteByIDs":      true,
	"DeleteByTopic":    true,
	"ReparentChildren": true,
	"LockByID":         true,
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	servicesDir := filepath.Join(root, "internal", "services")
	fset := token.NewFileSet()

	pkgs, err := parser.ParseDir(fset, servicesDir, func(fi os.FileInfo) bool {
		name := fi.Name()
		return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
	}, 0)
	if err != nil {
		exitf("parse dir: %v", err)
	}

	pkg, ok := pkgs["services"]
	if !ok {
		exitf("services package not found in %s", servicesDir)
	}

	fieldsByStruct := map[string]map[string]repoField{}
	for _, f := range pkg.Files {
		collectRepoFields(f, fieldsByStruct)
	}

	var methods []methodStats
	for filePath, f := range pkg.Files {
		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			rel = filePath
		}
		collectMethodStats(fset, f, rel, fieldsByStruct, &methods)
	}

	report := buildReport(fieldsByStruct, methods)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitf("marshal report: %v", err)
	}
	fmt.Println(string(out))
}

func collectRepoFields(file *ast.File, out map[string]map[string]repoField) {
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok || st.Fields == nil {
				continue
			}
			fields := map[string]repoField{}
			for _, field := range st.Fields.List {
				if len(field.Names) == 0 {
					continue
				}
				fieldName := field.Names[0].Name
				sel, ok := field.Type.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				pkgIdent, ok := sel.X.(*ast.Ident)
				if !ok || pkgIdent.Name != "repos" {
					continue
				}
				repoType := strings.TrimSpace(sel.Sel.Name)
				if !strings.HasSuffix(repoType, "Repo") {
					continue
				}
				fields[fieldName] = repoField{Name: fieldName, RepoType: repoType}
			}
			if len(fields) > 0 {
				out[ts.Name.Name] = fields
			}
		}
	}
}

// txRegions returns the source ranges of every function literal passed to a
// .Transaction(...) call inside body. Write callsites positioned in one of
// these ranges run under the closure's transaction.
func txRegions(body *ast.BlockStmt) [][2]token.Pos {
	var regions [][2]token.Pos
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Transaction" {
			return true
		}
		for _, arg := range call.Args {
			if fl, ok := arg.(*ast.FuncLit); ok {
				regions = append(regions, [2]token.Pos{fl.Pos(), fl.End()})
			}
		}
		return true
	})
	return regions
}

func insideAny(pos token.Pos, regions [][2]token.Pos) bool {
	for _, r := range regions {
		if pos >= r[0] && pos <= r[1] {
			return true
		}
	}
	return false
}

func collectMethodStats(
	fset *token.FileSet,
	file *ast.File,
	relFile string,
	fieldsByStruct map[string]map[string]repoField,
	out *[]methodStats,
) {
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv == nil || fd.Body == nil || len(fd.Recv.List) == 0 {
			continue
		}

		recvName, recvType := recvInfo(fd.Recv.List[0])
		if recvType == "" || recvName == "" {
			continue
		}
		fields, ok := fieldsByStruct[recvType]
		if !ok {
			continue
		}

		regions := txRegions(fd.Body)

		writeCalls := 0
		insideTx := 0
		outsideTx := 0
		writtenFields := map[string]bool{}
		var outsideCalls []string

		ast.Inspect(fd.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			fnSel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			rcvSel, ok := fnSel.X.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			baseIdent, ok := rcvSel.X.(*ast.Ident)
			if !ok || baseIdent.Name != recvName {
				return true
			}

			field := strings.TrimSpace(rcvSel.Sel.Name)
			method := strings.TrimSpace(fnSel.Sel.Name)
			if _, ok := fields[field]; !ok || !repoWriteMethods[method] {
				return true
			}

			writeCalls++
			writtenFields[field] = true
			if insideAny(call.Pos(), regions) {
				insideTx++
			} else {
				outsideTx++
				pos := fset.Position(call.Pos())
				outsideCalls = append(outsideCalls, fmt.Sprintf("%s.%s at %s:%d", field, method, filepath.ToSlash(relFile), pos.Line))
			}
			return true
		})

		line := fset.Position(fd.Pos()).Line
		*out = append(*out, methodStats{
			StructName:        recvType,
			Method:            fd.Name.Name,
			File:              filepath.ToSlash(relFile),
			Line:              line,
			RepoWriteCalls:    writeCalls,
			WritesInsideTx:    insideTx,
			WritesOutsideTx:   outsideTx,
			RepoFieldsWritten: sortedKeys(writtenFields),
			OutsideTxCalls:    outsideCalls,
		})
	}
}

func buildReport(fieldsByStruct map[string]map[string]repoField, methods []methodStats) txReport {
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].File == methods[j].File {
			return methods[i].Line < methods[j].Line
		}
		return methods[i].File < methods[j].File
	})

	var report txReport
	report.Methods = methods

	inventory := map[string]repoField{}
	for structName, fields := range fieldsByStruct {
		for _, rf := range fields {
			inventory[structName+"."+rf.Name] = rf
		}
	}

	for _, m := range methods {
		if m.RepoWriteCalls == 0 {
			continue
		}
		report.ServiceLayerRepoWriteCallsites += m.RepoWriteCalls
		report.WritesInsideTx += m.WritesInsideTx
		report.WritesOutsideTx += m.WritesOutsideTx
		report.MethodsWithWrites++
		if len(m.RepoFieldsWritten) >= 2 {
			report.MethodsCoordinating2PlusRepos++
		}
		if m.WritesOutsideTx > 0 {
			report.OutsideTxMethods = append(report.OutsideTxMethods, m)
		}
	}

	keys := make([]string, 0, len(inventory))
	for k := range inventory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		report.RepoFieldInventory = append(report.RepoFieldInventory, inventory[k])
	}
	return report
}

func recvInfo(field *ast.Field) (string, string) {
	if field == nil || len(field.Names) == 0 {
		return "", ""
	}
	recvName := field.Names[0].Name
	switch t := field.Type.(type) {
	case *ast.StarExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return recvName, id.Name
		}
	case *ast.Ident:
		return recvName, t.Name
	}
	return "", ""
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
