/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Errs aggregates distinct errors observed while validating a single
// operation, deduplicating by message and capping how many are retained.
type Errs struct {
	errs []error
	cnt  atomic.Int64
	mu   sync.Mutex
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		e.cnt.Store(int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(e.cnt.Load()) }

// JoinErr returns the number of distinct errors and a single joined error
// (nil if none were added).
func (e *Errs) JoinErr() (int, error) {
	cnt := e.Cnt()
	if cnt == 0 {
		return 0, nil
	}
	e.mu.Lock()
	joined := errors.Join(e.errs...)
	e.mu.Unlock()
	return cnt, joined
}

func (e *Errs) Error() string {
	cnt, err := e.JoinErr()
	if err == nil {
		return ""
	}
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more)", err, cnt-1)
	}
	return err.Error()
}
