package autonomy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vladlpavlov/Pythagoras-sub001/shared/helper"
)

var ErrNotAutonomous = errors.New("function is not autonomous")

// Error lists why a function is not autonomous.
type Error struct {
	Unresolved  []string
	Nonlocal    []string
	Unpublished []string
	Suspensions int
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Unresolved) > 0 {
		parts = append(parts, "unresolved names "+strings.Join(e.Unresolved, ", "))
	}
	if len(e.Nonlocal) > 0 {
		parts = append(parts, "assigns outer names "+strings.Join(e.Nonlocal, ", "))
	}
	if len(e.Unpublished) > 0 {
		parts = append(parts, "calls unpublished functions "+strings.Join(e.Unpublished, ", "))
	}
	if e.Suspensions > 0 {
		parts = append(parts, fmt.Sprintf("%d suspension points", e.Suspensions))
	}
	return ErrNotAutonomous.Error() + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return ErrNotAutonomous }

// Verdict decides autonomy from a NamesUsed record. A nil published set is
// the strict mode, where a function may not reach other functions at all.
// Otherwise free names and Env.Call targets found in published are allowed.
func Verdict(nu *NamesUsed, published map[string]struct{}) error {
	allowed := func(n string) bool {
		if published == nil {
			return false
		}
		_, ok := published[n]
		return ok
	}
	var e Error
	free := make(map[string]struct{}, len(nu.Unclassified)+len(nu.GlobalUnbound))
	for n := range nu.Unclassified {
		free[n] = struct{}{}
	}
	for n := range nu.GlobalUnbound {
		free[n] = struct{}{}
	}
	for _, n := range helper.SortedKeys(free) {
		if !IsBuiltin(n) && !allowed(n) {
			e.Unresolved = append(e.Unresolved, n)
		}
	}
	e.Nonlocal = helper.SortedKeys(nu.NonlocalUnbound)
	for _, n := range helper.SortedKeys(nu.Calls) {
		if !allowed(n) {
			e.Unpublished = append(e.Unpublished, n)
		}
	}
	e.Suspensions = nu.Suspensions

	if len(e.Unresolved) == 0 && len(e.Nonlocal) == 0 && len(e.Unpublished) == 0 && e.Suspensions == 0 {
		return nil
	}
	return &e
}

// Check analyzes src and applies Verdict.
func Check(src string, imports []string, published map[string]struct{}) (*NamesUsed, error) {
	nu, err := Analyze(src, imports)
	if err != nil {
		return nil, err
	}
	return nu, Verdict(nu, published)
}
