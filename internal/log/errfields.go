package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// errorFields expands err into the attrs Error attaches:
// err, error_type, cause_type, error_chain and optionally error_links.
func errorFields(err error, withLinks bool, maxLinks int) []any {
	surface, root := errorTypes(err)
	kv := []any{
		"err", err,
		"error_type", surface,
		"cause_type", root,
	}
	if chain := errorChain(err); len(chain) > 0 {
		kv = append(kv, "error_chain", chain)
	}
	if withLinks {
		kv = append(kv, "error_links", errorLinks(err, maxLinks))
	}
	return kv
}

// errorTypes returns the first meaningful type in the chain (skipping our
// own wrappers and fmt's) and the type of the innermost error.
func errorTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		if t == nil {
			continue
		}
		base := t
		for base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if strings.Contains(base.PkgPath(), "/internal/xerrors") {
			continue
		}
		if base.PkgPath() == "fmt" && base.Name() == "wrapError" {
			continue
		}
		surface = t.String()
		break
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}

	last := err
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
	}
	return surface, fmt.Sprintf("%T", last)
}

// errorChain lists the distinct messages down the Unwrap chain, followed by
// the members of a top level errors.Join.
func errorChain(err error) []string {
	var out []string
	prev := ""
	push := func(s string) {
		if s != prev {
			out = append(out, s)
			prev = s
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		push(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			if e != nil {
				push(e.Error())
			}
		}
	}
	return out
}

// errorLinks walks up to max links and records where each one was created,
// using a single PC (Wrap) or the first non-internal frame of a stack (New).
// Links without a position are dropped, except the outermost.
func errorLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 4)
	for depth, e := 0, err; e != nil && (max <= 0 || depth < max); depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := linkPosition(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if ok || depth == 0 {
			links = append(links, link)
		}
	}
	return links
}

func linkPosition(e error) (fn, file string, line int, ok bool) {
	switch v := e.(type) {
	case interface{ PC() uintptr }:
		if v.PC() == 0 {
			return "", "", 0, false
		}
		fr, _ := runtime.CallersFrames([]uintptr{v.PC()}).Next()
		return fr.Function, fr.File, fr.Line, true
	case interface{ StackPCs() []uintptr }:
		pcs := v.StackPCs()
		if len(pcs) == 0 {
			return "", "", 0, false
		}
		frames := runtime.CallersFrames(pcs)
		for {
			fr, more := frames.Next()
			if !internalFrame(fr.Function) {
				return fr.Function, fr.File, fr.Line, true
			}
			if !more {
				return "", "", 0, false
			}
		}
	}
	return "", "", 0, false
}
