package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := New(KindConflict, "任务已存在")
	err := fmt.Errorf("%w：作业1", base)

	if got := KindOf(err); got != KindConflict {
		t.Errorf("期望 KindConflict，实际: %v", got)
	}
	if !errors.Is(err, base) {
		t.Error("期望 errors.Is 命中哨兵错误")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(io.EOF); got != KindUnknown {
		t.Errorf("期望 KindUnknown，实际: %v", got)
	}
	if IsKind(nil, KindUnknown) {
		t.Error("nil 错误不应匹配任何分类")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(KindIO, "归档失败", io.ErrUnexpectedEOF)

	if err.Error() != "归档失败："+io.ErrUnexpectedEOF.Error() {
		t.Errorf("错误信息不符: %s", err.Error())
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("期望能解包到底层错误")
	}
	if KindIO.String() != "io" {
		t.Errorf("期望 io，实际: %s", KindIO.String())
	}
}
