package term

import (
	"errors"
	"testing"
)

func TestCommandFor(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"main.js", "node main.js"},
		{"src/app.py", "python src/app.py"},
		{"Main.java", "javac Main.java && java Main"},
		{"src/solve.cpp", "g++ src/solve.cpp -o solve && ./solve"},
		{"prog.c", "gcc prog.c -o prog && ./prog"},
		{"main.go", "go run main.go"},
		{"tool.rs", "rustc tool.rs && ./tool"},
		{"index.PHP", "php index.PHP"},
		{"script.sh", "bash script.sh"},
	}
	for _, c := range cases {
		got, err := CommandFor(c.path)
		if err != nil {
			t.Errorf("CommandFor(%q): %v", c.path, err)
			continue
		}
		if got != c.want {
			t.Errorf("CommandFor(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestCommandForUnsupported(t *testing.T) {
	for _, p := range []string{"readme.md", "noext", "data.csv"} {
		if _, err := CommandFor(p); !errors.Is(err, ErrUnsupported) {
			t.Errorf("CommandFor(%q): got %v, want ErrUnsupported", p, err)
		}
	}
}
