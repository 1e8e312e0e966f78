// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrapf(err, "id=%s", "a")
	if wrapped.Error() != "id=a: base" {
		t.Errorf("Wrapf message = %q", wrapped.Error())
	}
}

func TestSetupError(t *testing.T) {
	base := errors.New("dial tcp: refused")
	se := NewSetupError("tool provider unavailable", "check the provider address", base)
	if se.Error() != "tool provider unavailable: dial tcp: refused" {
		t.Errorf("Error() = %q", se.Error())
	}
	if !errors.Is(se, base) {
		t.Error("SetupError should unwrap to base")
	}

	wrapped := fmt.Errorf("run: %w", se)
	got, ok := AsSetupError(wrapped)
	if !ok || got.Suggestion != "check the provider address" {
		t.Errorf("AsSetupError: ok=%v got=%+v", ok, got)
	}
	if _, ok := AsSetupError(base); ok {
		t.Error("plain error should not be a SetupError")
	}
	if NewSetupError("no key", "", nil).Error() != "no key" {
		t.Error("SetupError without cause should print message only")
	}
}
