package checksum

import (
	"errors"
	"io"
	"strings"
	"testing"
)

const (
	helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"hello", "hello", helloSHA},
		{"empty", "", emptySHA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Calculate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Calculate(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if b := Bytes([]byte(tt.input)); b != tt.want {
				t.Errorf("Bytes(%q) = %q, want %q", tt.input, b, tt.want)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestCalculate_ReadError(t *testing.T) {
	if _, err := Calculate(failingReader{}); err == nil {
		t.Error("Calculate() expected error")
	}
}

func TestVerify(t *testing.T) {
	if err := Verify(strings.NewReader("hello"), helloSHA); err != nil {
		t.Errorf("Verify() matching = %v, want nil", err)
	}
	err := Verify(strings.NewReader("hello!"), helloSHA)
	if !errors.Is(err, ErrMismatch) {
		t.Errorf("Verify() tampered = %v, want ErrMismatch", err)
	}
}

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader("hello"))
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want pass-through", data)
	}
	if r.Sum() != helloSHA {
		t.Errorf("Sum() = %q, want %q", r.Sum(), helloSHA)
	}
	if r.Size() != 5 {
		t.Errorf("Size() = %d, want 5", r.Size())
	}
}
