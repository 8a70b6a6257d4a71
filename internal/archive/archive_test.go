package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/crates/internal/model"
)

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func testRows(t *testing.T) []*model.OutboxEvent {
	t.Helper()
	var rows []*model.OutboxEvent
	for _, id := range []string{"alb-1", "alb-2"} {
		row, err := model.NewOutboxEvent(model.NewImportRequested(id, 7), id, model.AggregateAlbum, model.DestinationImportRequested)
		if err != nil {
			t.Fatalf("NewOutboxEvent: %v", err)
		}
		rows = append(rows, row)
	}
	return rows
}

type memDestination struct {
	keys []string
	data map[string][]byte
	err  error
}

func (d *memDestination) Write(_ context.Context, key string, data []byte) error {
	if d.err != nil {
		return d.err
	}
	if d.data == nil {
		d.data = map[string][]byte{}
	}
	d.keys = append(d.keys, key)
	d.data[key] = append([]byte(nil), data...)
	return nil
}

func TestExportJSONL(t *testing.T) {
	rows := testRows(t)
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	var buf bytes.Buffer
	if err := ExportJSONL(&buf, rows, at); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Type != "header" || h.EventCount != 2 || !h.Timestamp.Equal(at) {
		t.Fatalf("unexpected header: %+v", h)
	}

	var rec struct {
		Type string            `json:"type"`
		Data model.OutboxEvent `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Type != "outbox_event" || rec.Data.ID != rows[0].ID || rec.Data.Destination != model.DestinationImportRequested {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestArchiver_WritesEveryDestination(t *testing.T) {
	a1, a2 := &memDestination{}, &memDestination{}
	a := New("crates/archive", nil, a1, a2)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := a.Archive(context.Background(), testRows(t)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	want := "crates/archive/outbox-20260102T030405.000000000Z.jsonl"
	for i, d := range []*memDestination{a1, a2} {
		if len(d.keys) != 1 || d.keys[0] != want {
			t.Fatalf("destination %d keys = %v, want [%s]", i, d.keys, want)
		}
		if n := len(nonEmptyLines(string(d.data[want]))); n != 3 {
			t.Fatalf("destination %d got %d lines, want 3", i, n)
		}
	}
}

func TestArchiver_FailsWhenAnyDestinationFails(t *testing.T) {
	ok := &memDestination{}
	bad := &memDestination{err: errors.New("access denied")}
	a := New("", nil, ok, bad)
	if err := a.Archive(context.Background(), testRows(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestArchiver_NothingToDo(t *testing.T) {
	d := &memDestination{}
	a := New("x", nil, d)
	if err := a.Archive(context.Background(), nil); err != nil {
		t.Fatalf("Archive(nil): %v", err)
	}
	if len(d.keys) != 0 {
		t.Fatalf("wrote %v for an empty batch", d.keys)
	}
	if err := New("x", nil).Archive(context.Background(), testRows(t)); err == nil {
		t.Fatal("expected error without destinations")
	}
}

func TestDirDestination(t *testing.T) {
	root := t.TempDir()
	d := NewDirDestination(root)
	if err := d.Write(context.Background(), "archive/outbox-1.jsonl", []byte("line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "archive", "outbox-1.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "line\n" {
		t.Fatalf("content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "archive", "outbox-1.jsonl.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination_Write(t *testing.T) {
	fp := &fakePutter{}
	d := &S3Destination{client: fp, bucket: "crates-archive"}
	if err := d.Write(context.Background(), "p/outbox.jsonl", []byte("{}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if aws.ToString(fp.input.Bucket) != "crates-archive" || aws.ToString(fp.input.Key) != "p/outbox.jsonl" {
		t.Fatalf("bucket/key = %s/%s", aws.ToString(fp.input.Bucket), aws.ToString(fp.input.Key))
	}
	if aws.ToString(fp.input.ContentType) != "application/x-ndjson" {
		t.Fatalf("content type = %s", aws.ToString(fp.input.ContentType))
	}
	if string(fp.body) != "{}\n" {
		t.Fatalf("body = %q", fp.body)
	}

	fp.err = errors.New("no such bucket")
	if err := d.Write(context.Background(), "k", nil); err == nil || !strings.Contains(err.Error(), "no such bucket") {
		t.Fatalf("err = %v", err)
	}
}
