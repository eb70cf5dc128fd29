package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicReplace_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomicReplace(dir, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".a.txt.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomicReplace_Overwrites(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "report.json"), []byte("old"), 0o644); err != nil {
		t.Fatalf("准备文件失败：%v", err)
	}
	if err := WriteFileAtomicReplace(dir, "report.json", []byte("new")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "new" {
		t.Fatalf("应覆盖为新内容，实际 %q", string(b))
	}
}

func TestWriteFileAtomicReplace_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	err := WriteFileAtomicReplace(dir, "a.txt", []byte("hello"))
	if err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".a.txt.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
		if e.Name() == "a.txt" {
			t.Fatalf("不应写出最终文件：%q", e.Name())
		}
	}
}

func TestWriteFileAtomicNoOverwrite_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()

	// 目标路径是目录：应返回 PathTypeConflictError，而不是 os.ErrExist。
	if err := os.Mkdir(filepath.Join(dir, "a.txt"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteFileAtomicNoOverwrite(dir, "a.txt", []byte("hello"))
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestWriteFileAtomicNoOverwrite_Exists(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "compv.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("准备文件失败：%v", err)
	}

	err := WriteFileAtomicNoOverwrite(dir, "compv.json", []byte("{\"quality\":\"high\"}"))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("期望 os.ErrExist，实际：%v", err)
	}

	// 原有内容不得被动过。
	b, err := os.ReadFile(filepath.Join(dir, "compv.json"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "{}" {
		t.Fatalf("原文件被改写：%q", string(b))
	}
}

func TestTempOutput_HiddenAndUnique(t *testing.T) {
	dir := t.TempDir()

	p1, err := TempOutput(dir, "compressed_a.mp4")
	if err != nil {
		t.Fatalf("TempOutput: %v", err)
	}
	p2, err := TempOutput(dir, "compressed_a.mp4")
	if err != nil {
		t.Fatalf("TempOutput: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("期望两次预留得到不同路径，实际相同：%q", p1)
	}

	for _, p := range []string{p1, p2} {
		if filepath.Dir(p) != dir {
			t.Fatalf("临时文件不在目标目录：%q", p)
		}
		base := filepath.Base(p)
		if !strings.HasPrefix(base, ".compressed_a.mp4.tmp-") {
			t.Fatalf("临时文件命名不符：%q", base)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("临时文件应已创建：%v", err)
		}
	}
}

func TestTempOutput_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "er")

	p, err := TempOutput(dir, "compressed_a.mp4")
	if err != nil {
		t.Fatalf("TempOutput: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("临时文件应已创建：%v", err)
	}
}

func TestRename_NonEXDEVPassthrough(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	err := Rename("a", "b")
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("期望权限错误原样上抛，实际：%v", err)
	}
	if IsCrossDevice(err) {
		t.Fatalf("非 EXDEV 错误不应被标记为 CrossDeviceError")
	}
}
