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

package tools

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// invokeWithTimeout 在独立 goroutine 中执行工具，超时或 panic 均转为 error；
// 调用方无论是否已在 goroutine 中都走同一路径
func invokeWithTimeout(ctx context.Context, timeout time.Duration, fn Func, args map[string]any) (any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		v, err := fn(ctx, args)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tool call timed out after %s: %w", timeout, ctx.Err())
	}
}

// truncateHeadTail 保留头尾，中间替换为提示；按 rune 计数，不拆分多字节字符
func truncateHeadTail(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	removed := len(runes) - max
	head := max / 2
	tail := max - head
	marker := fmt.Sprintf("\n\n[WARNING: tool output truncated, %d characters removed from the middle. Re-run with narrower parameters to see them.]\n\n", removed)
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}
