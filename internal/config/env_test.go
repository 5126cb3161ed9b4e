package config

import (
	"bytes"
	"testing"
)

func TestLogOptionsFromEnv(t *testing.T) {
	t.Setenv("FLAGSHIP_LOG_PREFIX", "test: ")
	var opts LogOptions
	if err := ParseEnv(&opts); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if opts.Prefix != "test: " || opts.Quiet {
		t.Fatalf("options %+v", opts)
	}
	var buf bytes.Buffer
	opts.Logger(&buf).Print("hello")
	if !bytes.Contains(buf.Bytes(), []byte("test: ")) {
		t.Fatalf("prefix missing: %q", buf.String())
	}

	t.Setenv("FLAGSHIP_QUIET", "true")
	opts = LogOptions{}
	if err := ParseEnv(&opts); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	buf.Reset()
	opts.Logger(&buf).Print("hello")
	if buf.Len() != 0 {
		t.Fatalf("quiet logger wrote %q", buf.String())
	}

	t.Setenv("FLAGSHIP_QUIET", "maybe")
	if err := ParseEnv(&LogOptions{}); err == nil {
		t.Fatalf("expected parse error")
	}
}
