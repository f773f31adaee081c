package infer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// OperationOptions configures the sessions compiled for one operation.
// PoolSize > 1 compiles that many independent sessions so concurrent calls
// can run in parallel; it is meant for GPU placement.
type OperationOptions struct {
	onnx.SessionOptions
	PoolSize int
}

// SessionSet holds one compiled session cell per operation of a domain.
type SessionSet struct {
	domain Domain
	cells  map[Operation]*SessionCell
}

// NewSessionSet compiles every operation of domain from models and checks
// each session's actual signature against the declared one. On any failure
// all sessions compiled so far are closed and no set is returned.
func NewSessionSet(
	backend onnx.Backend,
	domain Domain,
	models map[Operation][]byte,
	opts map[Operation]OperationOptions,
) (*SessionSet, error) {
	set := &SessionSet{
		domain: domain,
		cells:  make(map[Operation]*SessionCell, len(domain.Operations())),
	}

	for _, op := range domain.Operations() {
		model, ok := models[op]
		if !ok || len(model) == 0 {
			set.Close()
			return nil, fmt.Errorf("%s: missing model data for %s", domain, op)
		}

		cell, err := newSessionCell(backend, op, model, opts[op])
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("%s: %s: %w", domain, op, err)
		}
		set.cells[op] = cell
	}

	return set, nil
}

func (s *SessionSet) Domain() Domain {
	return s.domain
}

// Get returns the cell for op. op must belong to the set's domain; asking
// for a foreign operation is a programming error.
func (s *SessionSet) Get(op Operation) *SessionCell {
	cell, ok := s.cells[op]
	if !ok {
		panic(fmt.Sprintf("infer: operation %s is not part of domain %s", op, s.domain))
	}
	return cell
}

// Close releases every session. Safe on a partially built set.
func (s *SessionSet) Close() error {
	var errs []error
	for _, cell := range s.cells {
		errs = append(errs, cell.close())
	}
	s.cells = map[Operation]*SessionCell{}
	return errors.Join(errs...)
}

// SessionCell executes one operation. Each underlying session accepts one
// call at a time; with a pool the least busy session is chosen.
type SessionCell struct {
	op    Operation
	sig   onnx.Signature
	slots []*sessionSlot
	next  atomic.Uint32
}

type sessionSlot struct {
	session onnx.Session
	// sem has capacity one; holding it grants exclusive use of session.
	sem      chan struct{}
	inflight atomic.Int32
}

func newSessionCell(backend onnx.Backend, op Operation, model []byte, opts OperationOptions) (*SessionCell, error) {
	size := opts.PoolSize
	if size < 1 {
		size = 1
	}

	cell := &SessionCell{op: op, sig: op.Signature()}
	for i := 0; i < size; i++ {
		session, actual, err := backend.NewSession(model, opts.SessionOptions)
		if err != nil {
			_ = cell.close()
			return nil, err
		}
		cell.slots = append(cell.slots, &sessionSlot{session: session, sem: make(chan struct{}, 1)})

		if err := cell.sig.CheckAccepts(actual); err != nil {
			_ = cell.close()
			return nil, err
		}
	}
	return cell, nil
}

func (c *SessionCell) Operation() Operation {
	return c.op
}

// PoolSize returns the number of sessions backing the cell.
func (c *SessionCell) PoolSize() int {
	return len(c.slots)
}

// Run validates inputs against the declared signature and executes them.
// A context cancelled while waiting for a session returns ctx.Err()
// unwrapped; backend failures are InferenceFailed.
func (c *SessionCell) Run(ctx context.Context, inputs ...*onnx.Tensor) ([]*onnx.Tensor, error) {
	if err := onnx.CheckInputs(c.sig.Inputs, inputs); err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, c.op.String(), err)
	}

	slot := c.pick()
	slot.inflight.Add(1)
	defer slot.inflight.Add(-1)

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-slot.sem }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs, err := slot.session.Run(ctx, inputs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, vverror.Wrap(vverror.KindInferenceFailed, c.op.String(), err)
	}
	if err := checkOutputs(c.sig.Outputs, outputs); err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, c.op.String(), err)
	}
	return outputs, nil
}

func (c *SessionCell) pick() *sessionSlot {
	if len(c.slots) == 1 {
		return c.slots[0]
	}
	start := int(c.next.Add(1)) % len(c.slots)
	best := c.slots[start]
	for i := 1; i < len(c.slots); i++ {
		s := c.slots[(start+i)%len(c.slots)]
		if s.inflight.Load() < best.inflight.Load() {
			best = s
		}
	}
	return best
}

func (c *SessionCell) close() error {
	var errs []error
	for _, s := range c.slots {
		errs = append(errs, s.session.Close())
	}
	c.slots = nil
	return errors.Join(errs...)
}

func checkOutputs(declared []onnx.TensorInfo, outputs []*onnx.Tensor) error {
	if len(outputs) != len(declared) {
		return fmt.Errorf("expected %d outputs, got %d", len(declared), len(outputs))
	}
	for i, info := range declared {
		t := outputs[i]
		if t == nil || t.DType() != info.DType {
			return fmt.Errorf("output %q has unexpected type", info.Name)
		}
	}
	return nil
}
