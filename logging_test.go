package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	expectMissing := []string{"20-Jan-2026.log"}
	for _, name := range expectMissing {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Fatalf("expected %s to be removed", name)
		} else if !os.IsNotExist(err) {
			t.Fatalf("stat %s: %v", name, err)
		}
	}
	expectPresent := []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"}
	for _, name := range expectPresent {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRotatesByDay(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	sink.WriteLine("first", day1)
	sink.WriteLine("second", day1.Add(24*time.Hour))

	first, err := os.ReadFile(filepath.Join(dir, "22-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day1: %v", err)
	}
	if !strings.Contains(string(first), "2026/01/22 12:00:00 first") {
		t.Fatalf("unexpected day1 content %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "23-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day2: %v", err)
	}
	if !strings.Contains(string(second), "second") || strings.Contains(string(second), "first") {
		t.Fatalf("unexpected day2 content %q", second)
	}
}

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSink) WriteLine(line string, _ time.Time) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *captureSink) Close() error { return nil }

func TestLogFanoutSplitsLines(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	_, _ = fanout.Write([]byte("one\r\ntw"))
	_, _ = fanout.Write([]byte("o\nthree"))
	if len(console.lines) != 2 || console.lines[0] != "one" || console.lines[1] != "two" {
		t.Fatalf("unexpected console lines %q", console.lines)
	}
	if len(file.lines) != 2 {
		t.Fatalf("file sink got %d lines, want 2", len(file.lines))
	}

	logger := log.New(fanout, "", 0)
	logger.Print("four")
	if got := console.lines[len(console.lines)-1]; got != "threefour" {
		t.Fatalf("buffered remainder not joined: %q", got)
	}
}

func TestWriteFileOnlyLineSkipsConsole(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)
	fanout.WriteFileOnlyLine("Frames by kind: contact=3", time.Now())
	if len(console.lines) != 0 {
		t.Fatalf("console received %q", console.lines)
	}
	if len(file.lines) != 1 {
		t.Fatalf("file received %d lines", len(file.lines))
	}

	newLogFanout(console, nil).WriteFileOnlyLine("dropped", time.Now())
	if len(console.lines) != 0 {
		t.Fatal("file-only line reached console without a file sink")
	}
}
