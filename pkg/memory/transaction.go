// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import "sync"

type txKind int

const (
	txInsert txKind = iota
	txUpdate
	txDelete
)

// txOp is one logged mutation: Before/After are nil as appropriate (Before
// is nil for an insert, After is nil for a delete).
type txOp struct {
	Kind   txKind
	Before *MemoryVector
	After  *MemoryVector
}

// transactionLog records every mutation in order so a caller can unwind a
// batch of changes (e.g. a failed multi-step consolidation) by replaying the
// log in reverse.
type transactionLog struct {
	mu  sync.Mutex
	ops []txOp
}

func newTransactionLog() *transactionLog {
	return &transactionLog{}
}

func (l *transactionLog) record(op txOp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// mark returns the current log length, a checkpoint to roll back to.
func (l *transactionLog) mark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// RollbackTo undoes every operation recorded since checkpoint, in reverse
// order, restoring the store to its state at that point.
func (s *Store) RollbackTo(checkpoint int) {
	s.tx.mu.Lock()
	ops := append([]txOp(nil), s.tx.ops[checkpoint:]...)
	s.tx.ops = s.tx.ops[:checkpoint]
	s.tx.mu.Unlock()

	s.mu.Lock()
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Kind {
		case txInsert:
			delete(s.vectors, op.After.ID)
		case txDelete:
			s.vectors[op.Before.ID] = op.Before
		case txUpdate:
			s.vectors[op.Before.ID] = op.Before
		}
	}
	s.mu.Unlock()

	s.scheduleSave()
}

// Checkpoint returns a marker usable with RollbackTo, letting a caller wrap
// a multi-step operation (e.g. extractor consolidation across several
// facts) in an all-or-nothing unit without a real database transaction.
func (s *Store) Checkpoint() int {
	return s.tx.mark()
}
