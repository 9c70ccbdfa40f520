// Copyright 2025 The Linmo Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rollback(order *[]int, release bool) func() {
	cu := Make(func() { *order = append(*order, 1) })
	cu.Add(func() { *order = append(*order, 2) })
	cu.Add(func() { *order = append(*order, 3) })
	defer cu.Clean()
	if release {
		return cu.Release()
	}
	return nil
}

func TestCleanReverseOrder(t *testing.T) {
	var order []int
	rollback(&order, false)
	if diff := cmp.Diff([]int{3, 2, 1}, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	var order []int
	cleaner := rollback(&order, true)
	if len(order) != 0 {
		t.Fatalf("cleanup functions ran after release: %v", order)
	}

	cleaner()
	if diff := cmp.Diff([]int{3, 2, 1}, order); diff != "" {
		t.Errorf("released cleaner order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Errorf("cleanup ran %d times, wanted 1", n)
	}
}
