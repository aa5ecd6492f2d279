/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playouterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		kind       Kind
		badRequest bool
	}{
		{InvalidTimePeriod, true},
		{DuplicateTimeSlot, true},
		{OverlapConflict, true},
		{AmbiguousSchedule, true},
		{ConfigurationMissing, true},
		{NotFound, false},
		{RunnerRequestFailed, false},
		{StoreFailure, false},
		{TransactionAborted, false},
	}

	for _, tt := range tests {
		err := fmt.Errorf("handler: %w", New(tt.kind, "boom"))
		if got := IsBadRequest(err); got != tt.badRequest {
			t.Fatalf("%s: IsBadRequest = %v, want %v", tt.kind, got, tt.badRequest)
		}
		if KindOf(err) != tt.kind {
			t.Fatalf("KindOf = %s, want %s", KindOf(err), tt.kind)
		}
	}
}

func TestTransactionAbortedKeepsCause(t *testing.T) {
	cause := New(DuplicateTimeSlot, "program overlaps")
	err := Wrap(TransactionAborted, cause, "replace programs")

	if KindOf(err) != TransactionAborted {
		t.Fatalf("unexpected outer kind %s", KindOf(err))
	}
	if !Is(err, DuplicateTimeSlot) {
		t.Fatal("expected cause kind to be reachable")
	}
	if !errors.Is(err, New(TransactionAborted, "")) {
		t.Fatal("errors.Is should match on kind")
	}
}

func TestUnclassifiedErrorsAreStoreFailures(t *testing.T) {
	if KindOf(errors.New("disk on fire")) != StoreFailure {
		t.Fatal("expected plain errors to classify as store failures")
	}
}
