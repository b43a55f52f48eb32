package agent

import (
	"encoding/json"
	"strings"
)

// Intent is the turn contract's derived read/mutate classification.
type Intent string

const (
	IntentRead   Intent = "read"
	IntentMutate Intent = "mutate"
)

// Scope is the turn contract's derived local/external classification.
type Scope string

const (
	ScopeLocal    Scope = "local"
	ScopeExternal Scope = "external"
)

// TaskContract is the derived {intent, scope, verifiers} gating final
// response verification (spec.md §4.6 "Final verification").
type TaskContract struct {
	Intent    Intent
	Scope     Scope
	Verifiers []string
}

var mutateVerbs = []string{
	"write", "edit", "patch", "create", "delete", "remove", "update",
	"modify", "rewrite", "refactor", "fix", "add", "implement", "change",
	"rename", "move", "append", "overwrite", "apply", "generate",
}

var externalVerbs = []string{
	"fetch", "download", "curl", "http", "api", "deploy", "push",
	"publish", "send", "post", "upload", "request", "call",
}

// deriveContract scans eventText for verbs to classify intent and scope,
// then attaches the verifier set each classification requires: non_empty
// always runs, diff_sanity runs for mutate intent, schema runs for
// external scope.
func deriveContract(eventText string) TaskContract {
	lower := strings.ToLower(eventText)

	intent := IntentRead
	for _, v := range mutateVerbs {
		if strings.Contains(lower, v) {
			intent = IntentMutate
			break
		}
	}

	scope := ScopeLocal
	for _, v := range externalVerbs {
		if strings.Contains(lower, v) {
			scope = ScopeExternal
			break
		}
	}

	verifiers := []string{"non_empty"}
	if intent == IntentMutate {
		verifiers = append(verifiers, "diff_sanity")
	}
	if scope == ScopeExternal {
		verifiers = append(verifiers, "schema")
	}

	return TaskContract{Intent: intent, Scope: scope, Verifiers: verifiers}
}

// verifyOutcome reports one verifier's verdict.
type verifyOutcome struct {
	ok        bool
	retryable bool
	reason    string
}

// runVerifiers evaluates every verifier the contract names against the
// turn's final text and tool history, short-circuiting on the first
// failure (spec.md §4.6: "A failed verifier with retryable=true
// re-prompts up to retryLimit; otherwise rollback + emit guardrail
// failure").
func runVerifiers(contract TaskContract, text string, history []executedToolCall) verifyOutcome {
	for _, name := range contract.Verifiers {
		var outcome verifyOutcome
		switch name {
		case "non_empty":
			outcome = verifyNonEmpty(text)
		case "diff_sanity":
			outcome = verifyDiffSanity(text, history)
		case "schema":
			outcome = verifySchema(text)
		default:
			continue
		}
		if !outcome.ok {
			return outcome
		}
	}
	return verifyOutcome{ok: true}
}

func verifyNonEmpty(text string) verifyOutcome {
	if strings.TrimSpace(text) == "" {
		return verifyOutcome{ok: false, retryable: true, reason: "final response was empty"}
	}
	return verifyOutcome{ok: true}
}

// rewriteJustificationMarkers are phrases that count as the "explicit
// rewrite reason" spec.md requires before an unsafe overwrite passes.
var rewriteJustificationMarkers = []string{
	"rewrit", "overwrit", "replac", "reset", "regenerat", "starting over", "from scratch",
}

// verifyDiffSanity refuses a turn that overwrote an existing file
// without ever explaining why in its final text.
func verifyDiffSanity(text string, history []executedToolCall) verifyOutcome {
	lower := strings.ToLower(text)
	for _, call := range history {
		if call.name != "write" {
			continue
		}
		var input struct {
			Append bool `json:"append"`
		}
		_ = json.Unmarshal(call.arguments, &input)
		if input.Append {
			continue
		}
		if !overwroteExistingFile(call) {
			continue
		}
		justified := false
		for _, marker := range rewriteJustificationMarkers {
			if strings.Contains(lower, marker) {
				justified = true
				break
			}
		}
		if !justified {
			return verifyOutcome{
				ok:        false,
				retryable: true,
				reason:    "overwrote an existing file without stating a rewrite reason",
			}
		}
	}
	return verifyOutcome{ok: true}
}

// overwroteExistingFile inspects a write tool's own result payload for
// evidence the file it touched already existed. The write tool reports
// bytes_written on success; whether the path pre-existed is tracked by
// the rollback journal, not the result, so this conservatively treats
// any non-error, non-append write as a potential overwrite that needs a
// stated reason -- callers that intend a fresh file should say so.
func overwroteExistingFile(call executedToolCall) bool {
	return !call.result.IsError
}

// verifySchema requires external-scope output to be valid JSON, since
// spec.md explicitly excludes structured-output grammar enforcement
// beyond this minimal shape check (§1 Non-goals).
func verifySchema(text string) verifyOutcome {
	if json.Valid([]byte(strings.TrimSpace(text))) {
		return verifyOutcome{ok: true}
	}
	return verifyOutcome{
		ok:        false,
		retryable: true,
		reason:    "external-scope response was not valid JSON",
	}
}
