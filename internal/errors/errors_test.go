package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E103", "Invalid port", CategoryConfig},
		{"transport error", "E200", "Listen failed", CategoryTransport},
		{"storage error", "E203", "Snapshot not found", CategoryStorage},
		{"unknown error code", "E999", "Unknown error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestRegistryCodes(t *testing.T) {
	for _, code := range GetAllCodes() {
		tmpl, _ := GetTemplate(code)
		if tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("template %s is incomplete: %+v", code, tmpl)
		}
		if len(code) != 4 || code[0] != 'E' {
			t.Errorf("code %q is not of the form Ennn", code)
		}
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  *ReplinetError
		want string
	}{
		{"with code", New("E200"), "E200: Listen failed"},
		{"with detail", New("E103"), "E103: Invalid port (Ports must be between 1 and 65535.)"},
		{"without code", &ReplinetError{Message: "test error"}, "test error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	err := New("E100").Wrap(fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(err, fs.ErrNotExist) = false, want true")
	}

	if got := FromError(nil, "E201"); got != nil {
		t.Errorf("FromError(nil) = %v, want nil", got)
	}
	if got := FromError(err, "E201"); got != err {
		t.Errorf("FromError() on a coded error = %v, want it unchanged", got)
	}
	if got := FromError(errors.New("refused"), "E201"); got.Code != "E201" || got.Wrapped == nil {
		t.Errorf("FromError() = %+v, want code E201 wrapping the cause", got)
	}
}

func TestWithLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replinet.toml")
	content := "[server]\naddress = \"0.0.0.0\"\nport = 70000\nmax_connections = 8\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New("E103").WithLocation(path, 3, 8)
	if err.Location.String() != path+":3:8" {
		t.Errorf("Location = %q, want %q", err.Location.String(), path+":3:8")
	}
	if len(err.Context) != 4 {
		t.Fatalf("Context = %q, want 4 lines", err.Context)
	}

	DisableColors()
	defer EnableColors()
	out := err.Format()
	for _, want := range []string{"ERROR E103: Invalid port", "→    3 │ port = 70000", "^", "Ports must be between"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("E201").Wrap(errors.New("connection refused"))
	want := "E201: Connect failed: connection refused"
	if got := err.FormatCompact(); got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("E107").WithDetail(`store "redis"`)
	var got map[string]any
	if e := json.Unmarshal([]byte(err.FormatJSON()), &got); e != nil {
		t.Fatalf("FormatJSON() is not valid JSON: %v", e)
	}
	if got["code"] != "E107" || got["category"] != "config" || got["detail"] != `store "redis"` {
		t.Errorf("FormatJSON() = %v", got)
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, New("E106").WithSuggestion("use info"))
	if !strings.Contains(buf.String(), "Hint: use info") {
		t.Errorf("Fprint() = %q, want the hint", buf.String())
	}

	buf.Reset()
	Fprint(&buf, errors.New("plain"))
	if !strings.Contains(buf.String(), "ERROR: plain") {
		t.Errorf("Fprint() = %q, want the plain message", buf.String())
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 30), 20)
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("wrapText() line %q longer than 20", l)
		}
	}
	if wrapText("", 10) != nil {
		t.Error("wrapText(\"\") should be nil")
	}
}
