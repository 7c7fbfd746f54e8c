package security

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sandboxfs/sandboxfs/pkg/logging"
)

// AuditSink is the subset of logging.AuditLogger that Engine depends on,
// kept as an interface so tests can substitute a recording fake without
// constructing a real logger.
type AuditSink interface {
	Success(operation string, paths []string, result string)
	Violation(violationType, input, resolved, workspaceRoot string)
}

// Engine is the PolicyEngine façade described in the specification (§4.C):
// the single entry point every effectful component uses to vet paths, guard
// size limits, and record audit lines. It owns the PolicyConfig and
// RateLimiter for its lifetime and exposes the mutable emergency flags.
type Engine struct {
	policy  *PolicyConfig
	limiter *RateLimiter
	audit   AuditSink
	log     *logging.Logger

	// emergencyStop and emergencyReadOnly are accessed atomically since they
	// may be toggled by an administrative entry point concurrently with
	// in-flight requests.
	emergencyStop     int32
	emergencyReadOnly int32
}

// NewEngine constructs a PolicyEngine bound to the given immutable policy
// and rate limiter. audit may be nil, in which case audit recording is a
// no-op regardless of policy.AuditEnabled.
func NewEngine(policy *PolicyConfig, limiter *RateLimiter, audit AuditSink, log *logging.Logger) *Engine {
	return &Engine{policy: policy, limiter: limiter, audit: audit, log: log}
}

// Policy returns the engine's immutable policy configuration.
func (e *Engine) Policy() *PolicyConfig { return e.policy }

// SetEmergencyStop toggles the emergency-stop flag. While set, every Vet*
// call rejects immediately with ReasonEmergencyStop.
func (e *Engine) SetEmergencyStop(stop bool) {
	var v int32
	if stop {
		v = 1
	}
	atomic.StoreInt32(&e.emergencyStop, v)
}

// EmergencyStopped reports whether the emergency-stop flag is currently set.
func (e *Engine) EmergencyStopped() bool {
	return atomic.LoadInt32(&e.emergencyStop) != 0
}

// SetEmergencyReadOnly toggles the emergency-read-only flag. While set,
// every non-read Vet call rejects with ReasonEmergencyReadOnly, but reads
// are still permitted.
func (e *Engine) SetEmergencyReadOnly(readOnly bool) {
	var v int32
	if readOnly {
		v = 1
	}
	atomic.StoreInt32(&e.emergencyReadOnly, v)
}

// EmergencyReadOnly reports whether the emergency-read-only flag is
// currently set.
func (e *Engine) EmergencyReadOnly() bool {
	return atomic.LoadInt32(&e.emergencyReadOnly) != 0
}

// recordViolation emits a SECURITY_VIOLATION audit line for a rejection.
func (e *Engine) recordViolation(r *Rejection) {
	if e.audit == nil {
		return
	}
	e.audit.Violation(string(r.Reason), r.Input, r.Resolved, e.policy.WorkspaceRoot)
}

// recordSuccess emits an AUDIT line for a successful operation.
func (e *Engine) recordSuccess(operation string, paths []string, result string) {
	if e.audit == nil {
		return
	}
	e.audit.Success(operation, paths, result)
}

// checkEmergency implements the emergency-mode short-circuit shared by every
// Vet* entry point.
func (e *Engine) checkEmergency(input string, kind OperationKind) *Rejection {
	if e.EmergencyStopped() {
		return newRejection(ReasonEmergencyStop, input, "", "")
	}
	if e.EmergencyReadOnly() && (kind == OperationWrite || kind == OperationDelete) {
		return newRejection(ReasonEmergencyReadOnly, input, "", "")
	}
	return nil
}

// Vet runs the rate limiter and the full PathResolver pipeline for a single
// path, recording a SECURITY_VIOLATION line on rejection. On success, it
// records rate-limiter consumption for agentID and emits no audit line; the
// AUDIT line for a completed operation is emitted by Note.
func (e *Engine) Vet(agentID, inputPath string, kind OperationKind) (VettedPath, error) {
	if r := e.checkEmergency(inputPath, kind); r != nil {
		e.recordViolation(r)
		return VettedPath{}, r
	}

	now := time.Now()
	if e.limiter != nil {
		if r := e.limiter.Check(agentID, now); r != nil {
			e.recordViolation(r)
			return VettedPath{}, r
		}
	}

	vetted, rejection := Resolve(inputPath, kind, e.policy)
	if rejection != nil {
		e.recordViolation(rejection)
		return VettedPath{}, rejection
	}

	if e.limiter != nil {
		e.limiter.Record(agentID, now)
	}

	return vetted, nil
}

// VetSymlink vets both the link path (as a write) and the target path,
// additionally enforcing the in-workspace-target constraint from §4.G: the
// canonicalization of target must lie under the workspace root, independent
// of whether it currently exists.
func (e *Engine) VetSymlink(agentID, linkPath, targetPath string) (link VettedPath, target VettedPath, err error) {
	link, err = e.Vet(agentID, linkPath, OperationWrite)
	if err != nil {
		return VettedPath{}, VettedPath{}, err
	}

	target, err = e.Vet(agentID, targetPath, OperationRead)
	if err != nil {
		r := newRejection(ReasonSymlinkEscape, targetPath, "", fmt.Sprintf("target vetting failed: %v", err))
		e.recordViolation(r)
		return VettedPath{}, VettedPath{}, r
	}

	return link, target, nil
}

// GuardFileSize enforces the per-file byte cap, recording a violation line
// on rejection.
func (e *Engine) GuardFileSize(agentID string, size int64) error {
	if r := GuardFileSize(size, e.policy.MaxFileSize); r != nil {
		r.Input = agentID
		e.recordViolation(r)
		return r
	}
	return nil
}

// GuardBatch enforces the cumulative batch-size and operation-count caps,
// recording a violation line on rejection. maxOps of 0 disables the
// operation-count cap.
func (e *Engine) GuardBatch(agentID string, totalBytes int64, opCount, maxOps int) error {
	if r := GuardBatch(totalBytes, opCount, maxOps, e.policy.MaxBatchSize); r != nil {
		r.Input = agentID
		e.recordViolation(r)
		return r
	}
	return nil
}

// Note records an AUDIT line for an operation that has already completed
// successfully (or, for non-atomic batches, partially). It is the
// "Note" entry point from the PolicyEngine contract in §4.C.
func (e *Engine) Note(operation string, paths []string, result string) {
	e.recordSuccess(operation, paths, result)
}
