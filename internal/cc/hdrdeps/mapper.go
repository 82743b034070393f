package hdrdeps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/buildcore/cxxcore/internal/cc"
)

// ModuleResolver is the collaborator the mapper server calls into to
// turn a compiler-reported include/import name into either a pass-
// through decision, a BMI path, or a request that the compiler retry
// the search (spec §4.6.1 "GCC module-mapper protocol").
type ModuleResolver interface {
	// ResolveInclude decides what to do with an `INCLUDE` request: pass
	// it through as an ordinary include, translate it to a header-unit
	// import (returning its BMI path), or ask the compiler to search
	// again.
	ResolveInclude(quotedName, resolvedPath string) (mapperAction, bmiPath string, err error)

	// ResolveImport is the same decision for an `IMPORT` request, used
	// both for named-module imports and header-unit imports written as
	// `IMPORT '<path>'`.
	ResolveImport(quotedName, resolvedPath string) (mapperAction, bmiPath string, err error)
}

// mapperAction is the verb half of a ResolveInclude/ResolveImport
// decision, matching the response vocabulary of spec §6.
type mapperAction string

const (
	ActionInclude mapperAction = "INCLUDE"
	ActionImport  mapperAction = "IMPORT"
	ActionSearch  mapperAction = "SEARCH"
	ActionError   mapperAction = "ERROR"
)

// ServeMapper runs the GCC module-mapper request/response loop of spec
// §4.6.1/§6 on conn until it closes or ctx is cancelled. It is meant to
// run on its own dedicated goroutine per compiler process, per spec §9
// design note: "use blocking I/O with a single dedicated thread per
// compiler process; avoid async because the compiler expects prompt,
// ordered replies."
func ServeMapper(ctx context.Context, conn cc.ModuleMapperConn, resolver ModuleResolver) error {
	defer conn.Close()

	// pending correlates a SEARCH response with the compiler's
	// re-statement of the same quoted name, per spec §4.6.1: "the
	// extractor correlates by saving the original quoted name and
	// checking that the compiler's second attempt resolves to the same
	// target previously pushed."
	pending := map[string]string{} // quotedName -> resolvedPath from the first attempt

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := conn.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil // EOF ends the session; not itself an error to the caller
			}
			return err
		}
		fields := strings.Fields(req)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "HELLO":
			if len(fields) < 3 {
				if err := conn.WriteResponse("ERROR malformed HELLO"); err != nil {
					return err
				}
				continue
			}
			kind := fields[2]
			if err := conn.WriteResponse(fmt.Sprintf("HELLO 0 %s .", kind)); err != nil {
				return err
			}

		case "INCLUDE":
			quoted, resolved := splitMapperArgs(fields[1:])
			if prev, ok := pending[quoted]; ok && resolved != "" && prev != resolved {
				if err := conn.WriteResponse(fmt.Sprintf("ERROR inconsistent re-search for %s", quoted)); err != nil {
					return err
				}
				continue
			}
			action, bmi, rerr := resolver.ResolveInclude(quoted, resolved)
			if rerr != nil {
				if err := conn.WriteResponse("ERROR " + rerr.Error()); err != nil {
					return err
				}
				continue
			}
			if action == ActionSearch {
				pending[quoted] = resolved
			} else {
				delete(pending, quoted)
			}
			if err := conn.WriteResponse(mapperResponse(action, bmi)); err != nil {
				return err
			}

		case "IMPORT":
			quoted, resolved := splitMapperArgs(fields[1:])
			action, bmi, rerr := resolver.ResolveImport(quoted, resolved)
			if rerr != nil {
				if err := conn.WriteResponse("ERROR " + rerr.Error()); err != nil {
					return err
				}
				continue
			}
			if action == ActionSearch {
				pending[quoted] = resolved
			} else {
				delete(pending, quoted)
			}
			if err := conn.WriteResponse(mapperResponse(action, bmi)); err != nil {
				return err
			}

		default:
			if glog.V(2) {
				glog.V(2).Infof("hdrdeps: module mapper: unrecognized request %q", req)
			}
			if err := conn.WriteResponse("ERROR unrecognized request"); err != nil {
				return err
			}
		}
	}
}

func mapperResponse(action mapperAction, bmi string) string {
	switch action {
	case ActionImport:
		return "IMPORT " + bmi
	case ActionSearch:
		return "SEARCH"
	default:
		return string(action)
	}
}

// splitMapperArgs separates a request's quoted-name argument from its
// optional trailing resolved-path argument. A quoted name is delimited
// by <...>, "...", or '...'; anything after the closing delimiter (if
// present) is the resolved path.
func splitMapperArgs(args []string) (quotedName, resolvedPath string) {
	if len(args) == 0 {
		return "", ""
	}
	joined := strings.Join(args, " ")
	if len(joined) == 0 {
		return "", ""
	}
	open := joined[0]
	var close byte
	switch open {
	case '<':
		close = '>'
	case '"':
		close = '"'
	case '\'':
		close = '\''
	default:
		return joined, ""
	}
	end := strings.IndexByte(joined[1:], close)
	if end < 0 {
		return joined, ""
	}
	end += 1
	quotedName = joined[:end+1]
	resolvedPath = strings.TrimSpace(joined[end+1:])
	return quotedName, resolvedPath
}
